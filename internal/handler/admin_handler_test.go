package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-api/internal/middleware"
	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/service"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

type cleanupServiceMock struct {
	result models.CleanupResult
	err    error
}

func (m *cleanupServiceMock) Statistics(context.Context) (models.SessionStatistics, error) {
	return models.SessionStatistics{Active: 4, Inactive: 2, Total: 6}, nil
}

func (m *cleanupServiceMock) RunCleanup(context.Context) (models.CleanupResult, error) {
	return m.result, m.err
}

func (m *cleanupServiceMock) ForceCleanupInactive(context.Context) (int64, error) {
	return 2, nil
}

func (m *cleanupServiceMock) Status() service.CleanupStatus {
	return service.CleanupStatus{Running: true, Interval: "1h0m0s"}
}

type sessionServiceMock struct {
	destroyed []string
	err       error
}

func (m *sessionServiceMock) GetUserActiveSessions(_ context.Context, userID, currentID string) ([]models.SessionSummary, error) {
	return []models.SessionSummary{{ID: "s-1", IsCurrent: currentID == "s-1"}}, nil
}

func (m *sessionServiceMock) DestroyUserSession(_ context.Context, userID, sessionID string) error {
	if m.err != nil {
		return m.err
	}
	m.destroyed = append(m.destroyed, userID+"/"+sessionID)
	return nil
}

func (m *sessionServiceMock) DestroyAllUserSessions(context.Context, string) (int64, error) {
	return 5, nil
}

func TestAdminSessionHandlerCleanup(t *testing.T) {
	h := NewAdminSessionHandler(&cleanupServiceMock{result: models.CleanupResult{ExpiredSessions: 3, StaleLocks: 1, TotalReclaimed: 4}})

	c, w := newJSONContext(http.MethodPost, "/admin/sessions/cleanup", nil)
	h.Cleanup(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_reclaimed":4`)

	c, w = newJSONContext(http.MethodGet, "/admin/sessions/stats", nil)
	h.Stats(c)
	assert.Contains(t, w.Body.String(), `"total":6`)

	c, w = newJSONContext(http.MethodGet, "/admin/sessions/cleanup/status", nil)
	h.Status(c)
	assert.Contains(t, w.Body.String(), `"running":true`)
}

func TestAdminSessionHandlerCleanupFailure(t *testing.T) {
	h := NewAdminSessionHandler(&cleanupServiceMock{err: appErrors.Internal(errors.New("db down"), "session cleanup incomplete")})

	c, w := newJSONContext(http.MethodPost, "/admin/sessions/cleanup", nil)
	h.Cleanup(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessionHandlerScopesToCaller(t *testing.T) {
	svc := &sessionServiceMock{}
	h := NewSessionHandler(svc)
	res := sampleResult()
	identity := &models.Identity{User: res.User, Session: &models.Session{ID: "s-1"}}

	c, w := newJSONContext(http.MethodGet, "/sessions", nil)
	c.Set(middleware.ContextUserKey, identity)
	h.ListMine(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_current":true`)

	c, w = newJSONContext(http.MethodDelete, "/sessions/s-9", nil)
	c.Set(middleware.ContextUserKey, identity)
	c.AddParam("id", "s-9")
	h.RevokeMine(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{res.User.ID + "/s-9"}, svc.destroyed)
}

func TestSessionHandlerRevokeMissing(t *testing.T) {
	h := NewSessionHandler(&sessionServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "session not found")})
	res := sampleResult()

	c, w := newJSONContext(http.MethodDelete, "/sessions/s-9", nil)
	c.Set(middleware.ContextUserKey, &models.Identity{User: res.User, Session: res.Session})
	c.AddParam("id", "s-9")
	h.RevokeMine(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
