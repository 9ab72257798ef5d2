package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/delivery/http/middleware"
	"github.com/Harsh-BH/sentinel-judge/internal/ratelimit"
)

// RouterConfig holds the optional parts of the router.
type RouterConfig struct {
	// Limiter is applied to execute and judge routes; nil disables it.
	Limiter      ratelimit.Limiter
	MaxBodyBytes int64
}

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(svc Service, health *HealthHandler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(logger))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Health check (no rate limiting)
		v1.GET("/health", health.Health)

		// Languages
		langHandler := NewLanguageHandler(svc)
		v1.GET("/languages", langHandler.List)

		// Execution and judging (with rate limiting)
		limited := v1.Group("")
		if cfg.Limiter != nil {
			limited.Use(middleware.RateLimiter(cfg.Limiter, logger))
		}

		subHandler := NewSubmissionHandler(svc, logger)
		body := middleware.BodySizeLimit(cfg.MaxBodyBytes)
		limited.POST("/execute", body, subHandler.Execute)
		limited.POST("/judge", body, subHandler.Judge)

		// WebSocket for per-test progress
		wsHandler := NewWebSocketHandler(svc, cfg.MaxBodyBytes, logger)
		limited.GET("/judge/stream", wsHandler.Stream)
	}

	return router
}
