package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/service"
	"github.com/noah-isme/account-api/pkg/response"
)

type cleanupService interface {
	Statistics(ctx context.Context) (models.SessionStatistics, error)
	RunCleanup(ctx context.Context) (models.CleanupResult, error)
	ForceCleanupInactive(ctx context.Context) (int64, error)
	Status() service.CleanupStatus
}

// AdminSessionHandler exposes session maintenance for administrators.
type AdminSessionHandler struct {
	cleanup cleanupService
}

// NewAdminSessionHandler creates the handler.
func NewAdminSessionHandler(cleanup cleanupService) *AdminSessionHandler {
	return &AdminSessionHandler{cleanup: cleanup}
}

// Stats godoc
// @Summary Session statistics
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sessions/stats [get]
func (h *AdminSessionHandler) Stats(c *gin.Context) {
	stats, err := h.cleanup.Statistics(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Cleanup godoc
// @Summary Run a cleanup sweep now
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sessions/cleanup [post]
func (h *AdminSessionHandler) Cleanup(c *gin.Context) {
	result, err := h.cleanup.RunCleanup(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ForceCleanup godoc
// @Summary Delete every inactive session
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sessions/cleanup/force [post]
func (h *AdminSessionHandler) ForceCleanup(c *gin.Context) {
	deleted, err := h.cleanup.ForceCleanupInactive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted_sessions": deleted}, nil)
}

// Status godoc
// @Summary Cleanup scheduler status
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sessions/cleanup/status [get]
func (h *AdminSessionHandler) Status(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.cleanup.Status(), nil)
}
