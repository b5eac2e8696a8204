package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/repository"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/token"
)

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByAccessHash(ctx context.Context, hash string) (*models.Session, error)
	FindByRefreshHash(ctx context.Context, hash string) (*models.Session, error)
	FindSuperseded(ctx context.Context, hash string) (*repository.SupersededRefresh, error)
	Rotate(ctx context.Context, p repository.RotateParams) (bool, error)
	Deactivate(ctx context.Context, id string, now time.Time) (bool, error)
	DeactivateForUser(ctx context.Context, userID, id string, now time.Time) (bool, error)
	DeactivateAllForUser(ctx context.Context, userID string, asOf time.Time) (int64, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
}

type sessionUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type activityToucher interface {
	Touch(sessionID string, at time.Time)
}

// TokenWriter receives rotated tokens so the transport can hand them back to the client.
type TokenWriter interface {
	WriteTokens(pair models.TokenPair)
}

// SessionManagerConfig carries token lifetimes and store bounds.
type SessionManagerConfig struct {
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	RefreshReuseGrace time.Duration
	StoreTimeout      time.Duration
}

// SessionManager issues, validates, rotates and revokes sessions. Absence of a
// valid session is reported as a nil identity with a nil error.
type SessionManager struct {
	sessions sessionStore
	users    sessionUserLookup
	audit    auditWriter
	issuer   *token.Issuer
	activity activityToucher
	metrics  *MetricsService
	cfg      SessionManagerConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionManager creates an instance of SessionManager.
func NewSessionManager(sessions sessionStore, users sessionUserLookup, audit auditWriter, issuer *token.Issuer, activity activityToucher, metrics *MetricsService, cfg SessionManagerConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	return &SessionManager{
		sessions: sessions,
		users:    users,
		audit:    audit,
		issuer:   issuer,
		activity: activity,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	if now != nil {
		m.now = now
	}
	return m
}

// Create opens a new session for userID.
func (m *SessionManager) Create(ctx context.Context, userID string, meta models.ClientMeta) (*models.AuthResult, error) {
	user, err := m.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	now := m.now().UTC()
	sessionID := uuid.NewString()
	pair, err := m.issuePair(user.ID, sessionID)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		ID:                    sessionID,
		UserID:                user.ID,
		AccessTokenHash:       m.issuer.Fingerprint(pair.AccessToken),
		RefreshTokenHash:      m.issuer.Fingerprint(pair.RefreshToken),
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
		IsActive:              true,
		IPAddress:             meta.IPAddress,
		UserAgent:             meta.UserAgent,
		LastActivity:          now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()
	if err := m.sessions.Create(sctx, session); err != nil {
		return nil, appErrors.Internal(err, "failed to create session")
	}

	return &models.AuthResult{User: user, Session: session, Tokens: pair}, nil
}

// ValidateAccessToken resolves an access token to its identity.
func (m *SessionManager) ValidateAccessToken(ctx context.Context, raw string) (*models.Identity, error) {
	claims, err := m.issuer.Verify(token.KindAccess, raw)
	if err != nil {
		return nil, nil
	}

	hash := m.issuer.Fingerprint(raw)
	session, err := m.findSession(ctx, m.sessions.FindByAccessHash, hash)
	if err != nil || session == nil {
		return nil, err
	}

	now := m.now().UTC()
	if !m.issuer.Equal(raw, session.AccessTokenHash) || !session.AccessValidAt(now) ||
		session.UserID != claims.Subject || session.ID != claims.SessionID {
		return nil, nil
	}

	user, err := m.loadUser(ctx, session.UserID)
	if err != nil || user == nil || !user.Active {
		return nil, err
	}

	if m.activity != nil {
		m.activity.Touch(session.ID, now)
	}
	return &models.Identity{User: user, Session: session}, nil
}

// RefreshSession rotates the refresh token in place. The presented token is
// dead once this returns, whatever the outcome.
func (m *SessionManager) RefreshSession(ctx context.Context, raw string, writer TokenWriter, meta models.ClientMeta) (*models.Identity, error) {
	claims, err := m.issuer.Verify(token.KindRefresh, raw)
	if err != nil {
		m.metrics.RecordRefresh(RefreshOutcomeRejected)
		return nil, nil
	}

	hash := m.issuer.Fingerprint(raw)
	session, err := m.findSession(ctx, m.sessions.FindByRefreshHash, hash)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, m.handleSuperseded(ctx, hash, meta)
	}

	now := m.now().UTC()
	if !m.issuer.Equal(raw, session.RefreshTokenHash) || !session.RefreshValidAt(now) ||
		session.UserID != claims.Subject || session.ID != claims.SessionID {
		m.metrics.RecordRefresh(RefreshOutcomeRejected)
		return nil, nil
	}

	user, err := m.loadUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		m.metrics.RecordRefresh(RefreshOutcomeRejected)
		return nil, nil
	}

	pair, err := m.issuePair(user.ID, session.ID)
	if err != nil {
		return nil, err
	}

	params := repository.RotateParams{
		ID:                    session.ID,
		OldRefreshHash:        session.RefreshTokenHash,
		AccessTokenHash:       m.issuer.Fingerprint(pair.AccessToken),
		RefreshTokenHash:      m.issuer.Fingerprint(pair.RefreshToken),
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
		IPAddress:             firstNonEmpty(meta.IPAddress, session.IPAddress),
		UserAgent:             firstNonEmpty(meta.UserAgent, session.UserAgent),
		Now:                   now,
	}

	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()
	rotated, err := m.sessions.Rotate(sctx, params)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to rotate session")
	}
	if !rotated {
		m.metrics.RecordRefresh(RefreshOutcomeRejected)
		return nil, nil
	}

	previous := session.RefreshTokenHash
	session.PreviousRefreshTokenHash = &previous
	session.AccessTokenHash = params.AccessTokenHash
	session.RefreshTokenHash = params.RefreshTokenHash
	session.AccessTokenExpiresAt = params.AccessTokenExpiresAt
	session.RefreshTokenExpiresAt = params.RefreshTokenExpiresAt
	session.IPAddress = params.IPAddress
	session.UserAgent = params.UserAgent
	session.LastActivity = now
	session.UpdatedAt = now

	if writer != nil {
		writer.WriteTokens(pair)
	}
	m.metrics.RecordRefresh(RefreshOutcomeRotated)
	return &models.Identity{User: user, Session: session}, nil
}

// handleSuperseded treats a replayed refresh token from any earlier rotation
// as a theft signal once the reuse grace window has passed, revoking the
// whole session.
func (m *SessionManager) handleSuperseded(ctx context.Context, hash string, meta models.ClientMeta) error {
	fctx, fcancel := storeContext(ctx, m.cfg.StoreTimeout)
	found, err := m.sessions.FindSuperseded(fctx, hash)
	fcancel()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Internal(err, "failed to load session")
	}
	if found == nil || !found.IsActive {
		m.metrics.RecordRefresh(RefreshOutcomeRejected)
		return nil
	}
	session := &found.Session

	now := m.now().UTC()
	if now.Sub(found.SupersededAt) < m.cfg.RefreshReuseGrace {
		m.metrics.RecordRefresh(RefreshOutcomeRejected)
		return nil
	}

	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()
	if _, err := m.sessions.Deactivate(sctx, session.ID, now); err != nil {
		return appErrors.Internal(err, "failed to revoke session")
	}

	m.metrics.RecordRefresh(RefreshOutcomeReused)
	m.logger.Warn("refresh token reuse detected, session revoked",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID),
		zap.String("ip", meta.IPAddress))
	m.recordAudit(ctx, session.UserID, models.AuditActionRefreshReuse, session.ID, meta, map[string]interface{}{"revoked": true})
	return nil
}

// DestroySession marks one session inactive. Unknown or already inactive sessions are not an error.
func (m *SessionManager) DestroySession(ctx context.Context, sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid session id")
	}
	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()
	if _, err := m.sessions.Deactivate(sctx, sessionID, m.now().UTC()); err != nil {
		return appErrors.Internal(err, "failed to destroy session")
	}
	return nil
}

// DestroyUserSession marks one of userID's sessions inactive.
func (m *SessionManager) DestroyUserSession(ctx context.Context, userID, sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid session id")
	}
	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()
	found, err := m.sessions.DeactivateForUser(sctx, userID, sessionID, m.now().UTC())
	if err != nil {
		return appErrors.Internal(err, "failed to destroy session")
	}
	if !found {
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	return nil
}

// DestroyAllUserSessions deactivates every session userID holds as of now.
// Sessions created afterwards are unaffected.
func (m *SessionManager) DestroyAllUserSessions(ctx context.Context, userID string) (int64, error) {
	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()
	n, err := m.sessions.DeactivateAllForUser(sctx, userID, m.now().UTC())
	if err != nil {
		return 0, appErrors.Internal(err, "failed to destroy sessions")
	}
	return n, nil
}

// GetUserActiveSessions lists userID's usable sessions, flagging currentID.
func (m *SessionManager) GetUserActiveSessions(ctx context.Context, userID, currentID string) ([]models.SessionSummary, error) {
	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()
	sessions, err := m.sessions.ListActiveByUser(sctx, userID, m.now().UTC())
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list sessions")
	}
	summaries := make([]models.SessionSummary, 0, len(sessions))
	for i := range sessions {
		summaries = append(summaries, sessions[i].Summary(currentID))
	}
	return summaries, nil
}

func (m *SessionManager) issuePair(userID, sessionID string) (models.TokenPair, error) {
	access, accessExp, err := m.issuer.Issue(token.KindAccess, userID, sessionID, m.cfg.AccessTokenTTL)
	if err != nil {
		return models.TokenPair{}, appErrors.Internal(err, "failed to issue access token")
	}
	refresh, refreshExp, err := m.issuer.Issue(token.KindRefresh, userID, sessionID, m.cfg.RefreshTokenTTL)
	if err != nil {
		return models.TokenPair{}, appErrors.Internal(err, "failed to issue refresh token")
	}
	return models.TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

func (m *SessionManager) findSession(ctx context.Context, find func(context.Context, string) (*models.Session, error), hash string) (*models.Session, error) {
	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()
	session, err := find(sctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load session")
	}
	return session, nil
}

func (m *SessionManager) loadUser(ctx context.Context, id string) (*models.User, error) {
	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()
	user, err := m.users.FindByID(sctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

func (m *SessionManager) recordAudit(ctx context.Context, userID, action, sessionID string, meta models.ClientMeta, values map[string]interface{}) {
	writeAudit(ctx, m.audit, m.logger, auditEntry(userID, action, models.AuditResourceSessions, sessionID, meta, nil, values))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
