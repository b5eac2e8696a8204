package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/middleware"
	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/pkg/response"
)

type sessionService interface {
	GetUserActiveSessions(ctx context.Context, userID, currentID string) ([]models.SessionSummary, error)
	DestroyUserSession(ctx context.Context, userID, sessionID string) error
	DestroyAllUserSessions(ctx context.Context, userID string) (int64, error)
}

// SessionHandler exposes session listing and revocation.
type SessionHandler struct {
	sessions sessionService
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(sessions sessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// ListMine godoc
// @Summary List my sessions
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) ListMine(c *gin.Context) {
	identity := requireIdentity(c)
	if identity == nil {
		return
	}
	sessions, err := h.sessions.GetUserActiveSessions(c.Request.Context(), identity.UserID(), identity.SessionID())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// RevokeMine godoc
// @Summary Revoke one of my sessions
// @Tags Sessions
// @Param id path string true "Session ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [delete]
func (h *SessionHandler) RevokeMine(c *gin.Context) {
	identity := requireIdentity(c)
	if identity == nil {
		return
	}
	if err := h.sessions.DestroyUserSession(c.Request.Context(), identity.UserID(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListForUser godoc
// @Summary List a user's sessions
// @Tags Sessions
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/sessions [get]
func (h *SessionHandler) ListForUser(c *gin.Context) {
	current := ""
	if identity := middleware.IdentityFromContext(c); identity != nil {
		current = identity.SessionID()
	}
	sessions, err := h.sessions.GetUserActiveSessions(c.Request.Context(), c.Param("id"), current)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// RevokeAllForUser godoc
// @Summary Revoke all of a user's sessions
// @Tags Sessions
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/sessions [delete]
func (h *SessionHandler) RevokeAllForUser(c *gin.Context) {
	revoked, err := h.sessions.DestroyAllUserSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"revoked_sessions": revoked}, nil)
}
