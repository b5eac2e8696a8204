package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noah-isme/account-api/internal/credential"
	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/repository"
	"github.com/noah-isme/account-api/pkg/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestIssuer(clock *fakeClock) *token.Issuer {
	return token.NewIssuer("test-signing-key", "test-fingerprint-key", "account-api").WithClock(clock.Now)
}

// memSessions is an in-memory session store with the same conditional-write
// semantics as SessionRepository.
type memSessions struct {
	mu       sync.Mutex
	rows     map[string]*models.Session
	findErr  error
	batchErr error
	rowErr   map[string]error
	history  map[string]supersededEntry
	touches  int
}

type supersededEntry struct {
	sessionID string
	at        time.Time
}

func newMemSessions() *memSessions {
	return &memSessions{
		rows:    make(map[string]*models.Session),
		rowErr:  make(map[string]error),
		history: make(map[string]supersededEntry),
	}
}

func (m *memSessions) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.rows[s.ID] = &cp
	return nil
}

func (m *memSessions) get(id string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *memSessions) put(s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = &s
}

func (m *memSessions) find(match func(*models.Session) bool) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, s := range m.rows {
		if match(s) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memSessions) FindByAccessHash(_ context.Context, hash string) (*models.Session, error) {
	return m.find(func(s *models.Session) bool { return s.AccessTokenHash == hash })
}

func (m *memSessions) FindByRefreshHash(_ context.Context, hash string) (*models.Session, error) {
	return m.find(func(s *models.Session) bool { return s.RefreshTokenHash == hash })
}

func (m *memSessions) FindSuperseded(_ context.Context, hash string) (*repository.SupersededRefresh, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	entry, ok := m.history[hash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s, ok := m.rows[entry.sessionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &repository.SupersededRefresh{Session: *s, SupersededAt: entry.at}, nil
}

func (m *memSessions) Rotate(_ context.Context, p repository.RotateParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[p.ID]
	if !ok || !s.IsActive || s.RefreshTokenHash != p.OldRefreshHash || !s.RefreshTokenExpiresAt.After(p.Now) {
		return false, nil
	}
	prev := s.RefreshTokenHash
	s.PreviousRefreshTokenHash = &prev
	m.history[prev] = supersededEntry{sessionID: s.ID, at: p.Now}
	s.AccessTokenHash = p.AccessTokenHash
	s.RefreshTokenHash = p.RefreshTokenHash
	s.AccessTokenExpiresAt = p.AccessTokenExpiresAt
	s.RefreshTokenExpiresAt = p.RefreshTokenExpiresAt
	s.IPAddress = p.IPAddress
	s.UserAgent = p.UserAgent
	s.LastActivity = p.Now
	s.UpdatedAt = p.Now
	return true, nil
}

func (m *memSessions) Deactivate(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	if s.IsActive {
		s.IsActive = false
		s.UpdatedAt = now
	}
	return true, nil
}

func (m *memSessions) DeactivateForUser(_ context.Context, userID, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.UserID != userID {
		return false, nil
	}
	if s.IsActive {
		s.IsActive = false
		s.UpdatedAt = now
	}
	return true, nil
}

func (m *memSessions) DeactivateAllForUser(_ context.Context, userID string, asOf time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.rows {
		if s.UserID == userID && s.IsActive && !s.CreatedAt.After(asOf) {
			s.IsActive = false
			s.UpdatedAt = asOf
			n++
		}
	}
	return n, nil
}

func (m *memSessions) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.rows {
		if s.UserID == userID && s.IsActive && s.RefreshTokenExpiresAt.After(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memSessions) TouchActivity(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches++
	if s, ok := m.rows[id]; ok && at.After(s.LastActivity) {
		s.LastActivity = at
	}
	return nil
}

func sweepable(s *models.Session, c repository.SweepCriteria) bool {
	return s.RefreshTokenExpiresAt.Before(c.Now) || (!s.IsActive && s.UpdatedAt.Before(c.InactiveBefore))
}

func (m *memSessions) ListSweepable(_ context.Context, c repository.SweepCriteria, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var ids []string
	for id, s := range m.rows {
		if sweepable(s, c) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memSessions) DeleteSweepable(_ context.Context, ids []string, c repository.SweepCriteria) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) > 1 && m.batchErr != nil {
		return 0, m.batchErr
	}
	var n int64
	for _, id := range ids {
		if err := m.rowErr[id]; err != nil {
			return 0, err
		}
		if s, ok := m.rows[id]; ok && sweepable(s, c) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) DeleteInactive(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if !s.IsActive {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) Statistics(_ context.Context, now time.Time) (models.SessionStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return models.SessionStatistics{}, m.findErr
	}
	var stats models.SessionStatistics
	for _, s := range m.rows {
		if s.IsActive && s.RefreshTokenExpiresAt.After(now) {
			stats.Active++
		} else {
			stats.Inactive++
		}
		stats.Total++
	}
	return stats, nil
}

// memUsers is an in-memory user store with compare-and-swap lockout writes.
type memUsers struct {
	mu        sync.Mutex
	rows      map[string]*models.User
	audit     []*models.AuditLog
	findErr   error
	swapCalls int
	// beforeSwap runs inside SwapCredentialState before the comparison, letting
	// tests simulate a concurrent writer.
	beforeSwap func(u *models.User)
}

func newMemUsers(users ...*models.User) *memUsers {
	m := &memUsers{rows: make(map[string]*models.User)}
	for _, u := range users {
		cp := *u
		m.rows[u.ID] = &cp
	}
	return m
}

func (m *memUsers) get(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

func (m *memUsers) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.audit))
	for _, a := range m.audit {
		out = append(out, a.Action)
	}
	return out
}

func (m *memUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.rows {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) SwapCredentialState(_ context.Context, id string, prev, next credential.State, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swapCalls++
	u, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	if m.beforeSwap != nil {
		m.beforeSwap(u)
	}
	if !credential.Equal(u.CredentialState(), prev) {
		return false, nil
	}
	u.ApplyCredentialState(next)
	u.UpdatedAt = now
	return true, nil
}

func (m *memUsers) ResetCredentialState(_ context.Context, id string, loginAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.rows[id]; ok {
		u.LoginAttempts = 0
		u.LockUntil = nil
		u.LastLogin = &loginAt
	}
	return nil
}

func (m *memUsers) Unlock(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	u.LoginAttempts = 0
	u.LockUntil = nil
	u.UpdatedAt = now
	return true, nil
}

func (m *memUsers) ClearStaleLocks(_ context.Context, cutoff, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.rows {
		if u.LockUntil != nil && u.LockUntil.Before(cutoff) {
			u.LockUntil = nil
			u.LoginAttempts = 0
			u.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.rows[id]; ok {
		u.PasswordHash = hash
		u.UpdatedAt = at
	}
	return nil
}

func (m *memUsers) UpdateProfile(_ context.Context, id, fullName string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.rows[id]; ok {
		u.FullName = fullName
		u.UpdatedAt = at
	}
	return nil
}

func (m *memUsers) UpdateAvatar(_ context.Context, id string, path *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.rows[id]; ok {
		u.AvatarPath = path
		u.UpdatedAt = at
	}
	return nil
}

func (m *memUsers) List(_ context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.rows {
		if filter.Role != nil && !u.Roles.Has(*filter.Role) {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, len(out), nil
}

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.Email == u.Email {
			return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := *u
	m.rows[u.ID] = &cp
	return nil
}

func (m *memUsers) Update(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.rows[u.ID] = &cp
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.rows[id]; ok {
		u.Active = false
	}
	return nil
}

func (m *memUsers) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, log)
	return nil
}

type recordingWriter struct {
	pairs []models.TokenPair
}

func (w *recordingWriter) WriteTokens(pair models.TokenPair) {
	w.pairs = append(w.pairs, pair)
}

type recordingToucher struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingToucher) Touch(id string, _ time.Time) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *recordingToucher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
