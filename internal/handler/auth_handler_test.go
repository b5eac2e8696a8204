package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-api/internal/middleware"
	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/service"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

type authServiceMock struct {
	loginResult *models.AuthResult
	loginErr    error
	loggedOut   bool
	revoked     int64
}

func (m *authServiceMock) Register(context.Context, models.RegisterRequest, models.ClientMeta) (*models.AuthResult, error) {
	return m.loginResult, m.loginErr
}

func (m *authServiceMock) Login(_ context.Context, _ models.LoginRequest, _ models.ClientMeta) (*models.AuthResult, error) {
	return m.loginResult, m.loginErr
}

func (m *authServiceMock) Logout(context.Context, *models.Identity, models.ClientMeta) error {
	m.loggedOut = true
	return nil
}

func (m *authServiceMock) LogoutAll(context.Context, *models.Identity, models.ClientMeta) (int64, error) {
	return m.revoked, nil
}

func (m *authServiceMock) ChangePassword(context.Context, *models.Identity, models.ChangePasswordRequest, models.ClientMeta) (*models.AuthResult, error) {
	return m.loginResult, m.loginErr
}

func (m *authServiceMock) Me(identity *models.Identity) (models.UserInfo, error) {
	if identity == nil {
		return models.UserInfo{}, appErrors.ErrUnauthorized
	}
	return models.NewUserInfo(identity.User), nil
}

type refresherMock struct {
	identity *models.Identity
	pair     models.TokenPair
	seen     string
}

func (m *refresherMock) RefreshSession(_ context.Context, token string, writer service.TokenWriter, _ models.ClientMeta) (*models.Identity, error) {
	m.seen = token
	if m.identity != nil {
		writer.WriteTokens(m.pair)
	}
	return m.identity, nil
}

func sampleResult() *models.AuthResult {
	now := time.Now()
	return &models.AuthResult{
		User:    &models.User{ID: "0b8f6a52-7d0c-4c8e-9a55-2f4f0e1c2d3a", Email: "ana@example.com", Roles: models.RoleSet{models.RoleUser}},
		Session: &models.Session{ID: "a2c5d1e0-11aa-4bb2-8cc3-0dd4ee5ff6a7"},
		Tokens: models.TokenPair{
			AccessToken:           "access-1",
			RefreshToken:          "refresh-1",
			AccessTokenExpiresAt:  now.Add(15 * time.Minute),
			RefreshTokenExpiresAt: now.Add(7 * 24 * time.Hour),
		},
	}
}

func newJSONContext(method, target string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req, _ := http.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestAuthHandlerLoginWritesTokens(t *testing.T) {
	res := sampleResult()
	h := NewAuthHandler(&authServiceMock{loginResult: res}, &refresherMock{}, middleware.CookieOptions{})
	c, w := newJSONContext(http.MethodPost, "/auth/login", models.LoginRequest{Email: "ana@example.com", Password: "secret-pass"})

	h.Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "access-1", w.Header().Get(middleware.AccessTokenHeader))
	assert.Contains(t, strings.Join(w.Header().Values("Set-Cookie"), "\n"), "refresh_token=refresh-1")

	var envelope struct {
		Data models.AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "Bearer", envelope.Data.TokenType)
	assert.Equal(t, res.Session.ID, envelope.Data.SessionID)
	assert.Equal(t, "ana@example.com", envelope.Data.User.Email)
}

func TestAuthHandlerLoginLockedSetsRetryAfter(t *testing.T) {
	now := time.Now()
	h := NewAuthHandler(&authServiceMock{loginErr: service.LockedError(now.Add(90*time.Second), now)}, &refresherMock{}, middleware.CookieOptions{})
	c, w := newJSONContext(http.MethodPost, "/auth/login", models.LoginRequest{Email: "ana@example.com", Password: "secret-pass"})

	h.Login(c)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "90", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), appErrors.ErrAccountLocked.Code)
}

func TestAuthHandlerLoginInvalidBody(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{}, &refresherMock{}, middleware.CookieOptions{})
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerRefreshFromBody(t *testing.T) {
	res := sampleResult()
	refresher := &refresherMock{
		identity: &models.Identity{User: res.User, Session: res.Session},
		pair:     res.Tokens,
	}
	h := NewAuthHandler(&authServiceMock{}, refresher, middleware.CookieOptions{})
	c, w := newJSONContext(http.MethodPost, "/auth/refresh", models.RefreshTokenRequest{RefreshToken: "old-refresh"})

	h.Refresh(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "old-refresh", refresher.seen)
	assert.Equal(t, "refresh-1", w.Header().Get(middleware.RefreshTokenHeader))
	assert.Contains(t, w.Body.String(), `"refresh_token":"refresh-1"`)
}

func TestAuthHandlerRefreshRejectedClearsCookies(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{}, &refresherMock{}, middleware.CookieOptions{})
	c, w := newJSONContext(http.MethodPost, "/auth/refresh", nil)
	c.Request.Header.Set(middleware.RefreshTokenHeader, "replayed")

	h.Refresh(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, strings.Join(w.Header().Values("Set-Cookie"), "\n"), "refresh_token=;")
}

func TestAuthHandlerRefreshWithoutToken(t *testing.T) {
	refresher := &refresherMock{}
	h := NewAuthHandler(&authServiceMock{}, refresher, middleware.CookieOptions{})
	c, w := newJSONContext(http.MethodPost, "/auth/refresh", nil)

	h.Refresh(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, refresher.seen)
}

func TestAuthHandlerLogoutRequiresIdentity(t *testing.T) {
	svc := &authServiceMock{}
	h := NewAuthHandler(svc, &refresherMock{}, middleware.CookieOptions{})

	c, w := newJSONContext(http.MethodPost, "/auth/logout", nil)
	h.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, svc.loggedOut)

	res := sampleResult()
	c, w = newJSONContext(http.MethodPost, "/auth/logout", nil)
	c.Set(middleware.ContextUserKey, &models.Identity{User: res.User, Session: res.Session})
	h.Logout(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, svc.loggedOut)
}

func TestAuthHandlerLogoutAllReportsCount(t *testing.T) {
	res := sampleResult()
	h := NewAuthHandler(&authServiceMock{revoked: 3}, &refresherMock{}, middleware.CookieOptions{})
	c, w := newJSONContext(http.MethodPost, "/auth/logout-all", nil)
	c.Set(middleware.ContextUserKey, &models.Identity{User: res.User, Session: res.Session})

	h.LogoutAll(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"revoked_sessions":3`)
}
