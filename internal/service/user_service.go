package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userSessionRevoker interface {
	DestroyAllUserSessions(ctx context.Context, userID string) (int64, error)
}

type accountUnlocker interface {
	Unlock(ctx context.Context, userID string) error
}

// UserService handles user management workflows.
type UserService struct {
	repo       userRepository
	sessions   userSessionRevoker
	unlocker   accountUnlocker
	validator  *validator.Validate
	logger     *zap.Logger
	bcryptCost int
	timeout    time.Duration
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, sessions userSessionRevoker, unlocker accountUnlocker, validate *validator.Validate, logger *zap.Logger, bcryptCost int, timeout time.Duration) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserService{
		repo:       repo,
		sessions:   sessions,
		unlocker:   unlocker,
		validator:  validate,
		logger:     logger,
		bcryptCost: bcryptCost,
		timeout:    timeout,
	}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	sctx, cancel := storeContext(ctx, s.timeout)
	defer cancel()
	users, total, err := s.repo.List(sctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid user id")
	}
	sctx, cancel := storeContext(ctx, s.timeout)
	defer cancel()
	user, err := s.repo.FindByID(sctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

// Create adds a new user.
func (s *UserService) Create(ctx context.Context, req models.CreateUserRequest, actorID string, meta models.ClientMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	roles := req.RoleSet()
	if len(roles) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one role is required")
	}

	email := normalizeEmail(req.Email)
	sctx, cancel := storeContext(ctx, s.timeout)
	_, err := s.repo.FindByEmail(sctx, email)
	cancel()
	if err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		Roles:        roles,
		Active:       req.Active,
		PasswordHash: string(passwordHash),
	}

	sctx, cancel = storeContext(ctx, s.timeout)
	err = s.repo.Create(sctx, user)
	cancel()
	if err != nil {
		if isUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Internal(err, "failed to create user")
	}

	writeAudit(ctx, s.repo, s.logger, auditEntry(actorID, models.AuditActionUserCreate, models.AuditResourceUsers, user.ID, meta, nil,
		map[string]interface{}{"email": user.Email, "roles": user.Roles.Strings(), "active": user.Active}))

	return user, nil
}

// Update modifies the user attributes. Deactivating a user revokes their sessions.
func (s *UserService) Update(ctx context.Context, id string, req models.UpdateUserRequest, actorID string, meta models.ClientMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldValues := map[string]interface{}{"full_name": user.FullName, "roles": user.Roles.Strings(), "active": user.Active}
	wasActive := user.Active

	user.FullName = strings.TrimSpace(req.FullName)
	if roles := req.RoleSet(); len(roles) > 0 {
		user.Roles = roles
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	sctx, cancel := storeContext(ctx, s.timeout)
	err = s.repo.Update(sctx, user)
	cancel()
	if err != nil {
		return nil, appErrors.Internal(err, "failed to update user")
	}

	if wasActive && !user.Active {
		if _, err := s.sessions.DestroyAllUserSessions(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	writeAudit(ctx, s.repo, s.logger, auditEntry(actorID, models.AuditActionUserUpdate, models.AuditResourceUsers, user.ID, meta, oldValues,
		map[string]interface{}{"full_name": user.FullName, "roles": user.Roles.Strings(), "active": user.Active}))

	return user, nil
}

// Delete performs a soft delete (inactive) on a user and revokes all of their sessions.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.ClientMeta) error {
	if id == actorID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot delete your own account")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	sctx, cancel := storeContext(ctx, s.timeout)
	err = s.repo.Delete(sctx, id)
	cancel()
	if err != nil {
		return appErrors.Internal(err, "failed to delete user")
	}

	revoked, err := s.sessions.DestroyAllUserSessions(ctx, id)
	if err != nil {
		return err
	}

	writeAudit(ctx, s.repo, s.logger, auditEntry(actorID, models.AuditActionUserDelete, models.AuditResourceUsers, user.ID, meta,
		map[string]interface{}{"active": user.Active},
		map[string]interface{}{"active": false, "revoked_sessions": revoked}))

	return nil
}

// Unlock clears a lockout on the user.
func (s *UserService) Unlock(ctx context.Context, id string, actorID string, meta models.ClientMeta) error {
	if _, err := uuid.Parse(id); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid user id")
	}
	if err := s.unlocker.Unlock(ctx, id); err != nil {
		return err
	}
	writeAudit(ctx, s.repo, s.logger, auditEntry(actorID, models.AuditActionAccountUnlock, models.AuditResourceUsers, id, meta, nil, nil))
	s.logger.Info("account unlocked", zap.String("user_id", id), zap.String("actor_id", actorID))
	return nil
}
