package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/account-api/internal/credential"
	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

func newUserServiceFixture(t *testing.T) (*UserService, *managerFixture) {
	t.Helper()
	f := newManagerFixture(t)
	creds := NewCredentialService(f.users, credential.DefaultPolicy(), time.Second, nil, zap.NewNop()).WithClock(f.clock.Now)
	svc := NewUserService(f.users, f.manager, creds, nil, zap.NewNop(), bcrypt.MinCost, time.Second)
	return svc, f
}

func TestUserServiceCreateMergesRoles(t *testing.T) {
	svc, f := newUserServiceFixture(t)
	ctx := context.Background()

	user, err := svc.Create(ctx, models.CreateUserRequest{
		Email:    "Admin@Example.com",
		FullName: "Admin",
		Role:     models.RoleAdmin,
		Roles:    models.RoleSet{models.RoleUser, models.RoleAdmin},
		Active:   true,
		Password: "admin-password",
	}, f.user.ID, models.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", user.Email)
	assert.Equal(t, models.RoleSet{models.RoleAdmin, models.RoleUser}, user.Roles)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("admin-password")))
	assert.Contains(t, f.users.actions(), models.AuditActionUserCreate)

	_, err = svc.Create(ctx, models.CreateUserRequest{
		Email: "admin@example.com", FullName: "Again", Role: models.RoleUser, Password: "admin-password",
	}, f.user.ID, models.ClientMeta{})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = svc.Create(ctx, models.CreateUserRequest{
		Email: "norole@example.com", FullName: "No Role", Password: "admin-password",
	}, f.user.ID, models.ClientMeta{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestUserServiceDeleteRevokesSessions(t *testing.T) {
	svc, f := newUserServiceFixture(t)
	res := f.login(t)
	actor := uuid.NewString()

	require.NoError(t, svc.Delete(context.Background(), f.user.ID, actor, models.ClientMeta{}))
	assert.False(t, f.users.get(f.user.ID).Active)
	assert.False(t, f.sessions.get(res.Session.ID).IsActive)

	err := svc.Delete(context.Background(), actor, actor, models.ClientMeta{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestUserServiceUpdateDeactivationRevokesSessions(t *testing.T) {
	svc, f := newUserServiceFixture(t)
	res := f.login(t)
	inactive := false

	user, err := svc.Update(context.Background(), f.user.ID, models.UpdateUserRequest{FullName: "Ana B", Active: &inactive}, uuid.NewString(), models.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, "Ana B", user.FullName)
	assert.Equal(t, models.RoleSet{models.RoleUser}, user.Roles)
	assert.False(t, f.sessions.get(res.Session.ID).IsActive)
}

func TestUserServiceGetAndUnlock(t *testing.T) {
	svc, f := newUserServiceFixture(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "42")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = svc.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	until := f.clock.Now().Add(time.Hour)
	f.users.rows[f.user.ID].LoginAttempts = 5
	f.users.rows[f.user.ID].LockUntil = &until

	require.NoError(t, svc.Unlock(ctx, f.user.ID, uuid.NewString(), models.ClientMeta{}))
	assert.Nil(t, f.users.get(f.user.ID).LockUntil)
	assert.Contains(t, f.users.actions(), models.AuditActionAccountUnlock)
}

func TestUserServiceListPagination(t *testing.T) {
	svc, _ := newUserServiceFixture(t)
	users, page, err := svc.List(context.Background(), models.UserFilter{Page: 0, PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, page)
}
