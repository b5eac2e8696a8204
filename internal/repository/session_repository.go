package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/account-api/internal/models"
)

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash, previous_refresh_token_hash, access_token_expires_at, refresh_token_expires_at, is_active, ip_address, user_agent, last_activity, created_at, updated_at`

// SessionRepository persists sessions. Every mutation is a single-row or
// single-statement conditional write so concurrent replicas serialize in Postgres.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// RotateParams describes an in-place refresh rotation.
type RotateParams struct {
	ID                    string
	OldRefreshHash        string
	AccessTokenHash       string
	RefreshTokenHash      string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
	IPAddress             string
	UserAgent             string
	Now                   time.Time
}

// SupersededRefresh is a session found through one of its rotated-away
// refresh fingerprints.
type SupersededRefresh struct {
	models.Session
	SupersededAt time.Time `db:"superseded_at"`
}

// SweepCriteria selects sessions that can never authenticate again.
type SweepCriteria struct {
	Now            time.Time
	InactiveBefore time.Time
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	const query = `INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, previous_refresh_token_hash, access_token_expires_at, refresh_token_expires_at, is_active, ip_address, user_agent, last_activity, created_at, updated_at) VALUES (:id, :user_id, :access_token_hash, :refresh_token_hash, :previous_refresh_token_hash, :access_token_expires_at, :refresh_token_expires_at, :is_active, :ip_address, :user_agent, :last_activity, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	return r.findOne(ctx, "id", id)
}

// FindByAccessHash returns the session holding the access fingerprint.
func (r *SessionRepository) FindByAccessHash(ctx context.Context, hash string) (*models.Session, error) {
	return r.findOne(ctx, "access_token_hash", hash)
}

// FindByRefreshHash returns the session holding the refresh fingerprint.
func (r *SessionRepository) FindByRefreshHash(ctx context.Context, hash string) (*models.Session, error) {
	return r.findOne(ctx, "refresh_token_hash", hash)
}

// FindSuperseded returns the session that once held hash as its refresh
// fingerprint, however many rotations ago.
func (r *SessionRepository) FindSuperseded(ctx context.Context, hash string) (*SupersededRefresh, error) {
	query := fmt.Sprintf(`SELECT %s, h.superseded_at FROM session_refresh_history h JOIN sessions s ON s.id = h.session_id WHERE h.refresh_token_hash = $1`,
		qualifiedColumns("s", sessionColumns))
	var found SupersededRefresh
	if err := r.db.GetContext(ctx, &found, query, hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find superseded refresh: %w", err)
	}
	return &found, nil
}

func (r *SessionRepository) findOne(ctx context.Context, column, value string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE %s = $1 LIMIT 1`, sessionColumns, column)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, value); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session by %s: %w", column, err)
	}
	return &session, nil
}

// Rotate swaps the token fingerprints if the presented refresh hash is still
// current, active and unexpired, and records the old refresh hash in the
// session's history. Exactly one concurrent caller gets true.
func (r *SessionRepository) Rotate(ctx context.Context, p RotateParams) (bool, error) {
	const query = `WITH rotated AS (
UPDATE sessions SET
access_token_hash = $3,
refresh_token_hash = $4,
previous_refresh_token_hash = $2,
access_token_expires_at = $5,
refresh_token_expires_at = $6,
ip_address = $7,
user_agent = $8,
last_activity = $9,
updated_at = $9
WHERE id = $1 AND refresh_token_hash = $2 AND is_active = TRUE AND refresh_token_expires_at > $9
RETURNING id
)
INSERT INTO session_refresh_history (refresh_token_hash, session_id, superseded_at)
SELECT $2, id, $9 FROM rotated`
	res, err := r.db.ExecContext(ctx, query, p.ID, p.OldRefreshHash, p.AccessTokenHash, p.RefreshTokenHash,
		p.AccessTokenExpiresAt, p.RefreshTokenExpiresAt, p.IPAddress, p.UserAgent, p.Now)
	if err != nil {
		return false, fmt.Errorf("rotate session: %w", err)
	}
	return singleRow(res, "rotate session")
}

// Deactivate marks a session inactive. It reports whether the session exists;
// an already-inactive session keeps its original updated_at.
func (r *SessionRepository) Deactivate(ctx context.Context, id string, now time.Time) (bool, error) {
	const query = `UPDATE sessions SET is_active = FALSE, updated_at = CASE WHEN is_active THEN $2 ELSE updated_at END WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("deactivate session: %w", err)
	}
	return singleRow(res, "deactivate session")
}

// DeactivateForUser is Deactivate restricted to sessions owned by userID.
func (r *SessionRepository) DeactivateForUser(ctx context.Context, userID, id string, now time.Time) (bool, error) {
	const query = `UPDATE sessions SET is_active = FALSE, updated_at = CASE WHEN is_active THEN $3 ELSE updated_at END WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID, now)
	if err != nil {
		return false, fmt.Errorf("deactivate user session: %w", err)
	}
	return singleRow(res, "deactivate user session")
}

// DeactivateAllForUser deactivates every active session created at or before asOf.
func (r *SessionRepository) DeactivateAllForUser(ctx context.Context, userID string, asOf time.Time) (int64, error) {
	const query = `UPDATE sessions SET is_active = FALSE, updated_at = $2 WHERE user_id = $1 AND is_active = TRUE AND created_at <= $2`
	res, err := r.db.ExecContext(ctx, query, userID, asOf)
	if err != nil {
		return 0, fmt.Errorf("deactivate all user sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate all user sessions rows: %w", err)
	}
	return n, nil
}

// ListActiveByUser returns active, unexpired sessions, most recently used first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 AND is_active = TRUE AND refresh_token_expires_at > $2 ORDER BY last_activity DESC`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, userID, now); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// TouchActivity moves last_activity forward; it never moves it back.
func (r *SessionRepository) TouchActivity(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE sessions SET last_activity = GREATEST(last_activity, $2) WHERE id = $1 AND is_active = TRUE`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch session activity: %w", err)
	}
	return nil
}

// ListSweepable returns up to limit ids matching the sweep predicate.
func (r *SessionRepository) ListSweepable(ctx context.Context, c SweepCriteria, limit int) ([]string, error) {
	const query = `SELECT id FROM sessions WHERE refresh_token_expires_at < $1 OR (is_active = FALSE AND updated_at < $2) ORDER BY refresh_token_expires_at ASC LIMIT $3`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, c.Now, c.InactiveBefore, limit); err != nil {
		return nil, fmt.Errorf("list sweepable sessions: %w", err)
	}
	return ids, nil
}

// DeleteSweepable deletes the given ids, re-checking the predicate so a row
// revived between listing and deleting survives.
func (r *SessionRepository) DeleteSweepable(ctx context.Context, ids []string, c SweepCriteria) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `DELETE FROM sessions WHERE id = ANY($1) AND (refresh_token_expires_at < $2 OR (is_active = FALSE AND updated_at < $3))`
	res, err := r.db.ExecContext(ctx, query, pq.Array(ids), c.Now, c.InactiveBefore)
	if err != nil {
		return 0, fmt.Errorf("delete sweepable sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete sweepable sessions rows: %w", err)
	}
	return n, nil
}

// DeleteInactive removes every inactive session regardless of age.
func (r *SessionRepository) DeleteInactive(ctx context.Context) (int64, error) {
	const query = `DELETE FROM sessions WHERE is_active = FALSE`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete inactive sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete inactive sessions rows: %w", err)
	}
	return n, nil
}

// Statistics counts sessions; active means usable for refresh at now.
func (r *SessionRepository) Statistics(ctx context.Context, now time.Time) (models.SessionStatistics, error) {
	const query = `SELECT
COUNT(*) FILTER (WHERE is_active = TRUE AND refresh_token_expires_at > $1) AS active,
COUNT(*) FILTER (WHERE NOT (is_active = TRUE AND refresh_token_expires_at > $1)) AS inactive,
COUNT(*) AS total
FROM sessions`
	var stats models.SessionStatistics
	if err := r.db.GetContext(ctx, &stats, query, now); err != nil {
		return models.SessionStatistics{}, fmt.Errorf("session statistics: %w", err)
	}
	return stats, nil
}

func singleRow(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}
	return n == 1, nil
}

func qualifiedColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, col := range parts {
		parts[i] = alias + "." + col
	}
	return strings.Join(parts, ", ")
}
