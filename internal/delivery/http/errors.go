package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/delivery/http/middleware"
	"github.com/Harsh-BH/sentinel-judge/internal/domain"
)

const retryAfterSeconds = "5"

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   domain.ErrorKind `json:"error"`
	Message string           `json:"message"`
}

// statusFor maps an error to its HTTP status and public message. Infra
// faults get a generic message so no paths or internals leak to clients.
func statusFor(err error) (int, errorBody) {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindUnsupportedLanguage:
		return http.StatusBadRequest, errorBody{kind, err.Error()}
	case domain.KindInvalidRequest:
		if errors.Is(err, domain.ErrPayloadTooLarge) {
			return http.StatusRequestEntityTooLarge, errorBody{kind, err.Error()}
		}
		return http.StatusBadRequest, errorBody{kind, err.Error()}
	case domain.KindSystemBusy:
		return http.StatusServiceUnavailable, errorBody{kind, "Too many executions in progress, retry shortly"}
	default:
		return http.StatusInternalServerError, errorBody{kind, "Execution failed, please try again"}
	}
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status, body := statusFor(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", retryAfterSeconds)
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("request failed",
			zap.String("kind", string(body.Error)),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}

// writeBindError answers a request whose JSON body could not be decoded.
func writeBindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody{domain.KindInvalidRequest, "Request body too large"})
		return
	}
	c.JSON(http.StatusBadRequest, errorBody{domain.KindInvalidRequest, "Invalid request body: " + err.Error()})
}
