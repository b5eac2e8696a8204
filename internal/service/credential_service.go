package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/credential"
	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

const maxCredentialSwapAttempts = 5

type credentialRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	SwapCredentialState(ctx context.Context, id string, prev, next credential.State, now time.Time) (bool, error)
	ResetCredentialState(ctx context.Context, id string, loginAt time.Time) error
	Unlock(ctx context.Context, id string, now time.Time) (bool, error)
}

// CredentialService persists lockout transitions. Every write is a
// compare-and-swap against the state it was computed from.
type CredentialService struct {
	repo    credentialRepository
	policy  credential.Policy
	timeout time.Duration
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewCredentialService creates an instance of CredentialService.
func NewCredentialService(repo credentialRepository, policy credential.Policy, timeout time.Duration, metrics *MetricsService, logger *zap.Logger) *CredentialService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialService{repo: repo, policy: policy, timeout: timeout, metrics: metrics, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (s *CredentialService) WithClock(now func() time.Time) *CredentialService {
	if now != nil {
		s.now = now
	}
	return s
}

// Policy returns the active lockout policy.
func (s *CredentialService) Policy() credential.Policy {
	return s.policy
}

type attemptMode int

const (
	attemptLogin attemptMode = iota
	attemptReauth
)

// Attempt evaluates one login attempt for user. verify runs at most once and
// never while the account is locked. A correct password on an inactive
// account leaves the stored state untouched.
func (s *CredentialService) Attempt(ctx context.Context, user *models.User, verify func() bool) (credential.Result, error) {
	return s.evaluate(ctx, user, verify, attemptLogin)
}

// Reauthenticate checks the password of an already signed-in user. Failures
// count toward the lock exactly like login failures; success clears the
// counter without stamping last login.
func (s *CredentialService) Reauthenticate(ctx context.Context, user *models.User, verify func() bool) (credential.Result, error) {
	return s.evaluate(ctx, user, verify, attemptReauth)
}

func (s *CredentialService) evaluate(ctx context.Context, user *models.User, verify func() bool, mode attemptMode) (credential.Result, error) {
	check := onceBool(verify)
	current := user

	for i := 0; i < maxCredentialSwapAttempts; i++ {
		now := s.now().UTC()
		prev := current.CredentialState()
		res := credential.Evaluate(prev, s.policy, now, check)

		if res.Authenticated && mode == attemptLogin {
			if !current.Active {
				return res, nil
			}
			if err := s.reset(ctx, current.ID, now); err != nil {
				return credential.Result{}, err
			}
			user.ApplyCredentialState(res.Next)
			user.LastLogin = &now
			return res, nil
		}
		if !res.Changed {
			return res, nil
		}

		swapped, err := s.swap(ctx, current.ID, prev, res.Next, now)
		if err != nil {
			return credential.Result{}, err
		}
		if swapped {
			user.ApplyCredentialState(res.Next)
			if res.Locked {
				s.metrics.RecordLockout()
				s.logger.Warn("account locked", zap.String("user_id", user.ID), zap.Time("lock_until", res.LockedUntil))
			}
			return res, nil
		}

		current, err = s.reload(ctx, user.ID)
		if err != nil {
			return credential.Result{}, err
		}
	}
	return credential.Result{}, appErrors.Clone(appErrors.ErrInternal, "credential state contention")
}

// RecordFailure applies one failed attempt to userID and returns the new state.
func (s *CredentialService) RecordFailure(ctx context.Context, userID string) (credential.State, error) {
	user, err := s.reload(ctx, userID)
	if err != nil {
		return credential.State{}, err
	}
	res, err := s.Attempt(ctx, user, func() bool { return false })
	if err != nil {
		return credential.State{}, err
	}
	return res.Next, nil
}

// RecordSuccess clears lockout state and stamps last login.
func (s *CredentialService) RecordSuccess(ctx context.Context, userID string) error {
	return s.reset(ctx, userID, s.now().UTC())
}

// IsLocked reports whether userID is locked now and until when.
func (s *CredentialService) IsLocked(ctx context.Context, userID string) (bool, time.Time, error) {
	user, err := s.reload(ctx, userID)
	if err != nil {
		return false, time.Time{}, err
	}
	locked, until := credential.Check(user.CredentialState(), s.now().UTC())
	return locked, until, nil
}

// Unlock clears the lock on userID.
func (s *CredentialService) Unlock(ctx context.Context, userID string) error {
	sctx, cancel := storeContext(ctx, s.timeout)
	defer cancel()
	found, err := s.repo.Unlock(sctx, userID, s.now().UTC())
	if err != nil {
		return appErrors.Internal(err, "failed to unlock account")
	}
	if !found {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return nil
}

// LockedError renders a lock as the client-facing 429.
func LockedError(until, now time.Time) error {
	retry := int64(until.Sub(now).Seconds())
	if retry < 1 {
		retry = 1
	}
	return appErrors.WithDetails(appErrors.ErrAccountLocked, map[string]interface{}{
		"retry_after_seconds": retry,
		"locked_until":        until.UTC().Format(time.RFC3339),
	})
}

func (s *CredentialService) swap(ctx context.Context, id string, prev, next credential.State, now time.Time) (bool, error) {
	sctx, cancel := storeContext(ctx, s.timeout)
	defer cancel()
	ok, err := s.repo.SwapCredentialState(sctx, id, prev, next, now)
	if err != nil {
		return false, appErrors.Internal(err, "failed to record login attempt")
	}
	return ok, nil
}

func (s *CredentialService) reset(ctx context.Context, id string, now time.Time) error {
	sctx, cancel := storeContext(ctx, s.timeout)
	defer cancel()
	if err := s.repo.ResetCredentialState(sctx, id, now); err != nil {
		return appErrors.Internal(err, "failed to record login")
	}
	return nil
}

func (s *CredentialService) reload(ctx context.Context, id string) (*models.User, error) {
	sctx, cancel := storeContext(ctx, s.timeout)
	defer cancel()
	user, err := s.repo.FindByID(sctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load credential state")
	}
	return user, nil
}

func onceBool(fn func() bool) func() bool {
	var (
		once   sync.Once
		result bool
	)
	return func() bool {
		once.Do(func() { result = fn() })
		return result
	}
}
