package models

import "time"

// Session is a durable login record. Tokens are stored only as fingerprints.
type Session struct {
	ID                       string    `db:"id" json:"id"`
	UserID                   string    `db:"user_id" json:"user_id"`
	AccessTokenHash          string    `db:"access_token_hash" json:"-"`
	RefreshTokenHash         string    `db:"refresh_token_hash" json:"-"`
	PreviousRefreshTokenHash *string   `db:"previous_refresh_token_hash" json:"-"`
	AccessTokenExpiresAt     time.Time `db:"access_token_expires_at" json:"access_token_expires_at"`
	RefreshTokenExpiresAt    time.Time `db:"refresh_token_expires_at" json:"refresh_token_expires_at"`
	IsActive                 bool      `db:"is_active" json:"is_active"`
	IPAddress                string    `db:"ip_address" json:"ip_address"`
	UserAgent                string    `db:"user_agent" json:"user_agent"`
	LastActivity             time.Time `db:"last_activity" json:"last_activity"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}

// AccessValidAt reports whether the access half of the session is usable at now.
func (s *Session) AccessValidAt(now time.Time) bool {
	return s != nil && s.IsActive && s.AccessTokenExpiresAt.After(now)
}

// RefreshValidAt reports whether the refresh half of the session is usable at now.
func (s *Session) RefreshValidAt(now time.Time) bool {
	return s != nil && s.IsActive && s.RefreshTokenExpiresAt.After(now)
}

// Summary projects the session for listing.
func (s *Session) Summary(currentID string) SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		IPAddress:    s.IPAddress,
		UserAgent:    s.UserAgent,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		ExpiresAt:    s.RefreshTokenExpiresAt,
		IsCurrent:    currentID != "" && s.ID == currentID,
	}
}

// SessionSummary is the read-only view of an active session.
type SessionSummary struct {
	ID           string    `json:"id"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current"`
}

// Identity is what the authentication gate attaches to a request.
type Identity struct {
	User    *User
	Session *Session
}

// UserID returns the owner id or an empty string.
func (i *Identity) UserID() string {
	if i == nil || i.User == nil {
		return ""
	}
	return i.User.ID
}

// SessionID returns the session id or an empty string.
func (i *Identity) SessionID() string {
	if i == nil || i.Session == nil {
		return ""
	}
	return i.Session.ID
}

// TokenPair holds freshly minted raw tokens. Never persisted.
type TokenPair struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

// AuthResult is returned when a session is created.
type AuthResult struct {
	User    *User
	Session *Session
	Tokens  TokenPair
}

// ClientMeta is request metadata recorded on sessions and audit rows.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// SessionStatistics summarizes the session table.
type SessionStatistics struct {
	Active   int64 `db:"active" json:"active"`
	Inactive int64 `db:"inactive" json:"inactive"`
	Total    int64 `db:"total" json:"total"`
}

// CleanupResult reports what one sweep reclaimed.
type CleanupResult struct {
	ExpiredSessions int64 `json:"expired_sessions"`
	StaleLocks      int64 `json:"stale_locks"`
	TotalReclaimed  int64 `json:"total_reclaimed"`
}
