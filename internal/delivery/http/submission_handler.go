package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/delivery/http/middleware"
	"github.com/Harsh-BH/sentinel-judge/internal/service"
)

// SubmissionHandler handles ad-hoc execution and judging requests.
type SubmissionHandler struct {
	svc    Service
	logger *zap.Logger
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(svc Service, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		svc:    svc,
		logger: logger,
	}
}

// Execute handles POST /api/v1/execute
func (h *SubmissionHandler) Execute(c *gin.Context) {
	var req service.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	resp, err := h.svc.Execute(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Judge handles POST /api/v1/judge
func (h *SubmissionHandler) Judge(c *gin.Context) {
	var req service.JudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	verdict, err := h.svc.Judge(c.Request.Context(), req, nil)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("submission judged",
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("language", req.Language),
		zap.String("status", string(verdict.Summary.Status)),
	)
	c.JSON(http.StatusOK, verdict)
}
