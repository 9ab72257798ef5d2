package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
)

// BodySizeLimit returns a middleware that limits the maximum request body size.
// If the declared body exceeds maxBytes, a 413 Payload Too Large response is
// returned; bodies without a declared length are cut off while reading.
// maxBytes <= 0 disables the check.
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   domain.KindInvalidRequest,
				"message": "Request body too large",
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
