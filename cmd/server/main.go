package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/config"
	handler "github.com/Harsh-BH/sentinel-judge/internal/delivery/http"
	"github.com/Harsh-BH/sentinel-judge/internal/engine"
	"github.com/Harsh-BH/sentinel-judge/internal/ratelimit"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting Sentinel API Server")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Set Gin mode
	gin.SetMode(cfg.Server.GinMode)

	ctx := context.Background()

	// Build the execution engine
	eng, err := engine.Build(cfg, nil, logger)
	if err != nil {
		logger.Fatal("Failed to build execution engine", zap.Error(err))
	}
	defer eng.Close()

	if err := eng.Preload(ctx); err != nil {
		logger.Warn("Failed to preload sandbox images", zap.Error(err))
	}
	if err := eng.Warm(ctx); err != nil {
		logger.Warn("Failed to warm build caches", zap.Error(err))
	}

	// Rate limiter
	checks := map[string]handler.HealthCheck{}
	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Store {
	case "redis":
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to ping Redis", zap.Error(err))
		}
		logger.Info("Connected to Redis")

		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.PerMinute)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	default:
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.MaxClients, cfg.RateLimit.TTL)
	}
	defer limiter.Stop()

	// Initialize router
	health := handler.NewHealthHandler(eng.Sandbox.Name(), checks, logger)
	router := handler.NewRouter(eng.Service, health, handler.RouterConfig{
		Limiter:      limiter,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("API server stopped")
}
