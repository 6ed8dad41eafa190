package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func NewRouter(
	detectionHandler *DetectionHandler,
	syncHandler *SyncHandler,
	jwtSecret string,
	logger *zap.Logger,
	db *pgxpool.Pool,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/", AuthMiddleware(jwtSecret, logger))
	{
		auth.GET("/emails", detectionHandler.ListEmails)
		auth.GET("/emails/:id/detection", detectionHandler.GetDetection)
		auth.GET("/detection-overview", detectionHandler.Overview)

		auth.POST("/emails/:id/start-detection", detectionHandler.StartDetection)
		auth.POST("/emails/:id/start-fusion", detectionHandler.StartFusion)
		auth.POST("/emails/:id/start-enrichment", detectionHandler.StartEnrichment)
		auth.POST("/emails/:id/confirm-phishing", detectionHandler.ConfirmPhishing)

		auth.POST("/sync", syncHandler.TriggerSync)
	}

	return r
}
