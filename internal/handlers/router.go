package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/services"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HandlerManager struct {
	attemptHandler *AttemptHandler
	cacheStatus    func() string
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		attemptHandler: NewAttemptHandler(serviceManager.Attempt(), serviceManager.Export(), logger),
	}
}

// WithCacheStatus adds the attempt cache state to /health
func (hm *HandlerManager) WithCacheStatus(status func() string) *HandlerManager {
	hm.cacheStatus = status
	return hm
}

// SetupRoutes sets up all API routes. auth runs on the API group only.
func (hm *HandlerManager) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	router.GET("/health", hm.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	if auth != nil {
		v1.Use(auth)
	}
	{
		// Attempt routes
		attempts := v1.Group("/attempts")
		{
			attempts.POST("/start", hm.attemptHandler.StartAttempt)
			attempts.GET("", hm.attemptHandler.ListAttempts)
			attempts.GET("/flagged/export", hm.attemptHandler.ExportFlagged)
			attempts.GET("/:session_id", hm.attemptHandler.GetAttempt)
			attempts.PUT("/:session_id/sync", hm.attemptHandler.SyncProgress)
			attempts.POST("/:session_id/complete", hm.attemptHandler.CompleteAttempt)
		}
	}
}

// HealthCheck reports liveness. A degraded cache does not fail it.
func (hm *HandlerManager) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": "attempt-tracking-service",
	}
	if hm.cacheStatus != nil {
		body["cache"] = hm.cacheStatus()
	}
	c.JSON(http.StatusOK, body)
}
