package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsentry/internal/service"
)

type SyncHandler struct {
	sync   *service.SyncService
	logger *zap.Logger
}

func NewSyncHandler(sync *service.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{sync: sync, logger: logger}
}

// TriggerSync runs a full sync pass over every active binding. The
// worker runs the same pass periodically; this endpoint exists for
// on-demand refresh. Per-binding failures land in the summary, not in
// the HTTP status.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	summary, err := h.sync.SyncAll(c.Request.Context())
	if err != nil {
		h.logger.Error("Sync run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "sync failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "sync completed",
		"data":    summary,
	})
}
