package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsentry/internal/service"
)

type DetectionHandler struct {
	detection *service.DetectionService
	logger    *zap.Logger
}

func NewDetectionHandler(detection *service.DetectionService, logger *zap.Logger) *DetectionHandler {
	return &DetectionHandler{detection: detection, logger: logger}
}

func (h *DetectionHandler) StartDetection(c *gin.Context) {
	userID, emailID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	err := h.detection.Start(c.Request.Context(), userID, emailID)
	if err != nil {
		h.respondError(c, "StartDetection", emailID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "detection started",
	})
}

func (h *DetectionHandler) StartFusion(c *gin.Context) {
	userID, emailID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	outcome, err := h.detection.Fuse(c.Request.Context(), userID, emailID)
	if err != nil {
		h.respondError(c, "StartFusion", emailID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "fusion completed",
		"data": gin.H{
			"score":       outcome.Score,
			"verdict":     verdictLabel(outcome.Verdict),
			"threshold":   outcome.Threshold,
			"breakdown":   outcome.Breakdown,
			"explanation": outcome.Explanation,
		},
	})
}

func (h *DetectionHandler) StartEnrichment(c *gin.Context) {
	userID, emailID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	enr, err := h.detection.Enrich(c.Request.Context(), userID, emailID)
	if err != nil {
		h.respondError(c, "StartEnrichment", emailID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "enrichment completed",
		"data":    enr,
	})
}

func (h *DetectionHandler) ConfirmPhishing(c *gin.Context) {
	userID, emailID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	if err := h.detection.ConfirmPhishing(c.Request.Context(), userID, emailID); err != nil {
		h.respondError(c, "ConfirmPhishing", emailID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "phishing confirmed",
	})
}

func (h *DetectionHandler) GetDetection(c *gin.Context) {
	userID, emailID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	rec, err := h.detection.Detail(c.Request.Context(), userID, emailID)
	if err != nil {
		h.respondError(c, "GetDetection", emailID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    detectionView(rec),
	})
}

func (h *DetectionHandler) ListEmails(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	emails, err := h.detection.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("ListEmails: failed to fetch emails",
			zap.Int("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch emails"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    emailViews(emails),
	})
}

func (h *DetectionHandler) Overview(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	overview, err := h.detection.Overview(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Overview: failed to aggregate",
			zap.Int("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build overview"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    overview,
	})
}

func (h *DetectionHandler) requestIDs(c *gin.Context) (userID, emailID int, ok bool) {
	userID, ok = currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return 0, 0, false
	}

	emailID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email id"})
		return 0, 0, false
	}
	return userID, emailID, true
}

// respondError maps service sentinel errors onto HTTP statuses. Only
// structural errors reach this point; evaluator failures are absorbed
// inside the pipeline.
func (h *DetectionHandler) respondError(c *gin.Context, op string, emailID int, err error) {
	switch {
	case errors.Is(err, service.ErrEmailNotFound), errors.Is(err, service.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, service.ErrAlreadyInitialized):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, service.ErrNotAllSignalsDone), errors.Is(err, service.ErrFusionNotDone):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
	default:
		h.logger.Error(op+" failed",
			zap.Int("email_id", emailID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
	}
}

func verdictLabel(phishing bool) string {
	if phishing {
		return "Phishing"
	}
	return "Legitimate"
}
