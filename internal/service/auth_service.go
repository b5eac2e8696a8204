package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/account-api/internal/credential"
	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

const uniqueViolation = "23505"

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type authSessions interface {
	Create(ctx context.Context, userID string, meta models.ClientMeta) (*models.AuthResult, error)
	DestroySession(ctx context.Context, sessionID string) error
	DestroyAllUserSessions(ctx context.Context, userID string) (int64, error)
}

type credentialAttempter interface {
	Attempt(ctx context.Context, user *models.User, verify func() bool) (credential.Result, error)
	Reauthenticate(ctx context.Context, user *models.User, verify func() bool) (credential.Result, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	BcryptCost          int
	MinPasswordLength   int
	RegistrationEnabled bool
	StoreTimeout        time.Duration
}

// AuthService provides authentication use cases on top of SessionManager and
// the lockout machine.
type AuthService struct {
	repo      authUserRepository
	sessions  authSessions
	creds     credentialAttempter
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, sessions authSessions, creds credentialAttempter, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.BcryptCost < bcrypt.MinCost || config.BcryptCost > bcrypt.MaxCost {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.MinPasswordLength <= 0 {
		config.MinPasswordLength = 8
	}
	return &AuthService{
		repo:      repo,
		sessions:  sessions,
		creds:     creds,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	if now != nil {
		s.now = now
	}
	return s
}

// Register creates a USER account and opens its first session.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, meta models.ClientMeta) (*models.AuthResult, error) {
	if !s.config.RegistrationEnabled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration is disabled")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if len(req.Password) < s.config.MinPasswordLength {
		return nil, appErrors.Clone(appErrors.ErrValidation, "password is too short")
	}

	email := normalizeEmail(req.Email)
	existing, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	user := &models.User{
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: string(hash),
		Roles:        models.NewRoleSet(models.RoleUser),
		Active:       true,
	}

	sctx, cancel := storeContext(ctx, s.config.StoreTimeout)
	err = s.repo.Create(sctx, user)
	cancel()
	if err != nil {
		if isUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Internal(err, "failed to create user")
	}

	writeAudit(ctx, s.repo, s.logger, auditEntry(user.ID, models.AuditActionRegister, models.AuditResourceUsers, user.ID, meta, nil,
		map[string]interface{}{"email": user.Email}))

	return s.sessions.Create(ctx, user.ID, meta)
}

// Login checks credentials through the lockout machine and opens a session.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, meta models.ClientMeta) (*models.AuthResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.findByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(req.Password))
		s.metrics.RecordLogin(LoginOutcomeInvalid)
		writeAudit(ctx, s.repo, s.logger, auditEntry("", models.AuditActionLoginFailed, models.AuditResourceUsers, "", meta, nil,
			map[string]interface{}{"reason": "unknown_email"}))
		return nil, appErrors.ErrInvalidCredentials
	}

	res, err := s.creds.Attempt(ctx, user, func() bool {
		return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) == nil
	})
	if err != nil {
		return nil, err
	}

	if !res.Authenticated {
		if res.Locked {
			if res.Changed {
				writeAudit(ctx, s.repo, s.logger, auditEntry(user.ID, models.AuditActionAccountLocked, models.AuditResourceUsers, user.ID, meta, nil,
					map[string]interface{}{"attempts": res.Next.Attempts, "lock_until": res.LockedUntil}))
			}
			s.metrics.RecordLogin(LoginOutcomeLocked)
			return nil, LockedError(res.LockedUntil, s.now().UTC())
		}
		s.metrics.RecordLogin(LoginOutcomeInvalid)
		writeAudit(ctx, s.repo, s.logger, auditEntry(user.ID, models.AuditActionLoginFailed, models.AuditResourceUsers, user.ID, meta, nil,
			map[string]interface{}{"attempts": res.Next.Attempts}))
		return nil, appErrors.ErrInvalidCredentials
	}

	if !user.Active {
		s.metrics.RecordLogin(LoginOutcomeInactive)
		return nil, appErrors.ErrInactiveAccount
	}

	result, err := s.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLogin(LoginOutcomeSuccess)
	writeAudit(ctx, s.repo, s.logger, auditEntry(user.ID, models.AuditActionLogin, models.AuditResourceSessions, result.Session.ID, meta, nil,
		map[string]interface{}{"status": "success"}))
	s.logger.Info("user logged in", zap.String("user_id", user.ID), zap.String("session_id", result.Session.ID))
	return result, nil
}

// Logout ends the caller's current session.
func (s *AuthService) Logout(ctx context.Context, identity *models.Identity, meta models.ClientMeta) error {
	if identity == nil || identity.Session == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.sessions.DestroySession(ctx, identity.SessionID()); err != nil {
		return err
	}
	writeAudit(ctx, s.repo, s.logger, auditEntry(identity.UserID(), models.AuditActionLogout, models.AuditResourceSessions, identity.SessionID(), meta, nil, nil))
	return nil
}

// LogoutAll ends every session of the caller, including the current one.
func (s *AuthService) LogoutAll(ctx context.Context, identity *models.Identity, meta models.ClientMeta) (int64, error) {
	if identity == nil || identity.User == nil {
		return 0, appErrors.ErrUnauthorized
	}
	n, err := s.sessions.DestroyAllUserSessions(ctx, identity.UserID())
	if err != nil {
		return 0, err
	}
	writeAudit(ctx, s.repo, s.logger, auditEntry(identity.UserID(), models.AuditActionLogoutAll, models.AuditResourceSessions, "", meta, nil,
		map[string]interface{}{"revoked": n}))
	return n, nil
}

// ChangePassword verifies the current password, stores the new hash, revokes
// every existing session and opens a fresh one for the caller.
func (s *AuthService) ChangePassword(ctx context.Context, identity *models.Identity, req models.ChangePasswordRequest, meta models.ClientMeta) (*models.AuthResult, error) {
	if identity == nil || identity.User == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}
	if len(req.NewPassword) < s.config.MinPasswordLength {
		return nil, appErrors.Clone(appErrors.ErrValidation, "password is too short")
	}

	sctx, cancel := storeContext(ctx, s.config.StoreTimeout)
	user, err := s.repo.FindByID(sctx, identity.UserID())
	cancel()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnauthorized
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}

	res, err := s.creds.Reauthenticate(ctx, user, func() bool {
		return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)) == nil
	})
	if err != nil {
		return nil, err
	}
	if !res.Authenticated {
		if res.Locked {
			if res.Changed {
				writeAudit(ctx, s.repo, s.logger, auditEntry(user.ID, models.AuditActionAccountLocked, models.AuditResourceUsers, user.ID, meta, nil,
					map[string]interface{}{"attempts": res.Next.Attempts, "lock_until": res.LockedUntil}))
			}
			return nil, LockedError(res.LockedUntil, s.now().UTC())
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.config.BcryptCost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	sctx, cancel = storeContext(ctx, s.config.StoreTimeout)
	err = s.repo.UpdatePassword(sctx, user.ID, string(newHash), s.now().UTC())
	cancel()
	if err != nil {
		return nil, appErrors.Internal(err, "failed to update password")
	}

	revoked, err := s.sessions.DestroyAllUserSessions(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	writeAudit(ctx, s.repo, s.logger, auditEntry(user.ID, models.AuditActionPasswordChange, models.AuditResourceUsers, user.ID, meta, nil,
		map[string]interface{}{"revoked_sessions": revoked}))

	return s.sessions.Create(ctx, user.ID, meta)
}

// Me returns the authenticated user's info.
func (s *AuthService) Me(identity *models.Identity) (models.UserInfo, error) {
	if identity == nil || identity.User == nil {
		return models.UserInfo{}, appErrors.ErrUnauthorized
	}
	return models.NewUserInfo(identity.User), nil
}

func (s *AuthService) findByEmail(ctx context.Context, email string) (*models.User, error) {
	sctx, cancel := storeContext(ctx, s.config.StoreTimeout)
	defer cancel()
	user, err := s.repo.FindByEmail(sctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	return user, nil
}

// dummy returns a hash compared against when the email is unknown so both
// paths cost one bcrypt comparison.
func (s *AuthService) dummy() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("account-api-unknown-user"), s.config.BcryptCost)
		if err != nil {
			s.logger.Error("failed to build dummy password hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
