package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/middleware"
	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/service"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/response"
)

type authService interface {
	Register(ctx context.Context, req models.RegisterRequest, meta models.ClientMeta) (*models.AuthResult, error)
	Login(ctx context.Context, req models.LoginRequest, meta models.ClientMeta) (*models.AuthResult, error)
	Logout(ctx context.Context, identity *models.Identity, meta models.ClientMeta) error
	LogoutAll(ctx context.Context, identity *models.Identity, meta models.ClientMeta) (int64, error)
	ChangePassword(ctx context.Context, identity *models.Identity, req models.ChangePasswordRequest, meta models.ClientMeta) (*models.AuthResult, error)
	Me(identity *models.Identity) (models.UserInfo, error)
}

type sessionRefresher interface {
	RefreshSession(ctx context.Context, token string, writer service.TokenWriter, meta models.ClientMeta) (*models.Identity, error)
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service  authService
	sessions sessionRefresher
	cookies  middleware.CookieOptions
	now      func() time.Time
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService, sessions sessionRefresher, cookies middleware.CookieOptions) *AuthHandler {
	return &AuthHandler{service: svc, sessions: sessions, cookies: cookies, now: time.Now}
}

// Register godoc
// @Summary Register account
// @Description Create a self-service account and open its first session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Register payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid register payload"))
		return
	}

	res, err := h.service.Register(c.Request.Context(), req, middleware.ClientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.respondWithSession(c, http.StatusCreated, res)
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate user by email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	res, err := h.service.Login(c.Request.Context(), req, middleware.ClientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.respondWithSession(c, http.StatusOK, res)
}

// Refresh godoc
// @Summary Refresh session
// @Description Rotate the refresh token and issue a new access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest false "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw := middleware.RefreshToken(c)
	if raw == "" {
		var req models.RefreshTokenRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload"))
				return
			}
		}
		raw = strings.TrimSpace(req.RefreshToken)
	}
	if raw == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	transport := middleware.NewTokenTransport(c, h.cookies)
	capture := &capturingWriter{next: transport}
	identity, err := h.sessions.RefreshSession(c.Request.Context(), raw, capture, middleware.ClientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if identity == nil || capture.pair == nil {
		transport.Clear()
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res := &models.AuthResult{User: identity.User, Session: identity.Session, Tokens: *capture.pair}
	response.JSON(c, http.StatusOK, models.NewAuthResponse(res, h.now()), nil, middleware.ExtractMeta(c))
}

// Logout godoc
// @Summary Logout current session
// @Tags Authentication
// @Produce json
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	identity := requireIdentity(c)
	if identity == nil {
		return
	}
	if err := h.service.Logout(c.Request.Context(), identity, middleware.ClientMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	middleware.NewTokenTransport(c, h.cookies).Clear()
	response.NoContent(c)
}

// LogoutAll godoc
// @Summary Logout everywhere
// @Description Revoke every session of the current user
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	identity := requireIdentity(c)
	if identity == nil {
		return
	}
	revoked, err := h.service.LogoutAll(c.Request.Context(), identity, middleware.ClientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.NewTokenTransport(c, h.cookies).Clear()
	response.JSON(c, http.StatusOK, gin.H{"revoked_sessions": revoked}, nil)
}

// ChangePassword godoc
// @Summary Change password
// @Description Change password, revoke all sessions and open a new one
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ChangePasswordRequest true "Change password"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	identity := requireIdentity(c)
	if identity == nil {
		return
	}

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	res, err := h.service.ChangePassword(c.Request.Context(), identity, req, middleware.ClientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.respondWithSession(c, http.StatusOK, res)
}

// Me godoc
// @Summary Get current user
// @Description Returns the authenticated user's info
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	info, err := h.service.Me(middleware.IdentityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}

func (h *AuthHandler) respondWithSession(c *gin.Context, status int, res *models.AuthResult) {
	middleware.NewTokenTransport(c, h.cookies).WriteTokens(res.Tokens)
	response.JSON(c, status, models.NewAuthResponse(res, h.now()), nil, middleware.ExtractMeta(c))
}

// capturingWriter forwards rotated tokens to the transport and keeps a copy
// for the response body.
type capturingWriter struct {
	next service.TokenWriter
	pair *models.TokenPair
}

func (w *capturingWriter) WriteTokens(pair models.TokenPair) {
	w.pair = &pair
	w.next.WriteTokens(pair)
}
