package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/metrics"
	"github.com/Harsh-BH/sentinel-judge/internal/ratelimit"
)

// RateLimiter returns a middleware that enforces per-IP rate limiting.
// If the limiter itself fails (for example Redis is down) the request is let
// through.
func RateLimiter(limiter ratelimit.Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		ok, err := limiter.Allow(c.Request.Context(), ip)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request",
				zap.String("client_ip", ip),
				zap.Error(err),
			)
			c.Next()
			return
		}
		if !ok {
			metrics.RateLimitHits.Inc()
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RateLimitExceeded",
				"message": domain.ErrRateLimitExceeded.Error(),
			})
			return
		}
		c.Next()
	}
}
