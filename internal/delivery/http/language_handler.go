package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LanguageHandler handles language listing requests.
type LanguageHandler struct {
	svc Service
}

// NewLanguageHandler creates a new LanguageHandler.
func NewLanguageHandler(svc Service) *LanguageHandler {
	return &LanguageHandler{svc: svc}
}

// List handles GET /api/v1/languages
func (h *LanguageHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"languages": h.svc.Languages(),
	})
}
