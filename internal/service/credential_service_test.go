package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/credential"
	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

func newCredentialFixture(attempts int) (*CredentialService, *memUsers, *fakeClock, string) {
	clock := newFakeClock()
	id := uuid.NewString()
	users := newMemUsers(&models.User{ID: id, Email: "lock@example.com", Active: true, LoginAttempts: attempts})
	svc := NewCredentialService(users, credential.DefaultPolicy(), time.Second, nil, zap.NewNop()).WithClock(clock.Now)
	return svc, users, clock, id
}

func TestCredentialServiceLockoutScenario(t *testing.T) {
	svc, users, clock, id := newCredentialFixture(4)
	ctx := context.Background()

	res, err := svc.Attempt(ctx, users.get(id), func() bool { return false })
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.True(t, res.Locked)
	assert.Equal(t, clock.Now().Add(2*time.Hour), res.LockedUntil)

	stored := users.get(id)
	assert.Equal(t, 5, stored.LoginAttempts)
	require.NotNil(t, stored.LockUntil)

	clock.Advance(time.Hour)
	compared := 0
	res, err = svc.Attempt(ctx, users.get(id), func() bool { compared++; return true })
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.True(t, res.Locked)
	assert.Zero(t, compared)

	clock.Advance(time.Hour + time.Second)
	res, err = svc.Attempt(ctx, users.get(id), func() bool { compared++; return true })
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	assert.Equal(t, 1, compared)

	stored = users.get(id)
	assert.Zero(t, stored.LoginAttempts)
	assert.Nil(t, stored.LockUntil)
	require.NotNil(t, stored.LastLogin)
	assert.Equal(t, clock.Now(), *stored.LastLogin)
}

func TestCredentialServiceExpiredLockRestartsCounter(t *testing.T) {
	svc, users, clock, id := newCredentialFixture(0)
	ctx := context.Background()

	past := clock.Now().Add(-time.Minute)
	users.rows[id].LoginAttempts = 5
	users.rows[id].LockUntil = &past

	state, err := svc.RecordFailure(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Attempts)
	assert.Nil(t, state.LockUntil)
}

func TestCredentialServiceRetriesLostSwap(t *testing.T) {
	svc, users, _, id := newCredentialFixture(1)
	ctx := context.Background()

	interfered := false
	users.beforeSwap = func(u *models.User) {
		if !interfered {
			interfered = true
			u.LoginAttempts++
		}
	}

	verified := 0
	res, err := svc.Attempt(ctx, users.get(id), func() bool { verified++; return false })
	require.NoError(t, err)
	assert.Equal(t, 3, res.Next.Attempts)
	assert.Equal(t, 3, users.get(id).LoginAttempts)
	assert.Equal(t, 2, users.swapCalls)
	assert.Equal(t, 1, verified)
}

func TestCredentialServiceGivesUpUnderContention(t *testing.T) {
	svc, users, _, id := newCredentialFixture(0)
	users.beforeSwap = func(u *models.User) { u.LoginAttempts++ }

	_, err := svc.Attempt(context.Background(), users.get(id), func() bool { return false })
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Equal(t, maxCredentialSwapAttempts, users.swapCalls)
}

func TestCredentialServiceStoreFaultIsNotAFailure(t *testing.T) {
	svc, users, _, id := newCredentialFixture(2)
	users.findErr = errors.New("i/o timeout")

	_, err := svc.RecordFailure(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInternal)

	users.findErr = nil
	assert.Equal(t, 2, users.get(id).LoginAttempts)
}

func TestCredentialServiceIsLockedAndUnlock(t *testing.T) {
	svc, users, clock, id := newCredentialFixture(4)
	ctx := context.Background()

	_, err := svc.RecordFailure(ctx, id)
	require.NoError(t, err)

	locked, until, err := svc.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, clock.Now().Add(2*time.Hour), until)

	require.NoError(t, svc.Unlock(ctx, id))
	locked, _, err = svc.IsLocked(ctx, id)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Zero(t, users.get(id).LoginAttempts)

	err = svc.Unlock(ctx, uuid.NewString())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCredentialServiceRecordSuccessResets(t *testing.T) {
	svc, users, _, id := newCredentialFixture(3)
	require.NoError(t, svc.RecordSuccess(context.Background(), id))
	assert.Zero(t, users.get(id).LoginAttempts)
	assert.NotNil(t, users.get(id).LastLogin)
}

func TestCredentialServiceInactiveAccountKeepsState(t *testing.T) {
	svc, users, _, id := newCredentialFixture(3)
	users.rows[id].Active = false

	res, err := svc.Attempt(context.Background(), users.get(id), func() bool { return true })
	require.NoError(t, err)
	assert.True(t, res.Authenticated)

	stored := users.get(id)
	assert.Equal(t, 3, stored.LoginAttempts)
	assert.Nil(t, stored.LastLogin)
}

func TestCredentialServiceReauthenticate(t *testing.T) {
	svc, users, _, id := newCredentialFixture(3)
	ctx := context.Background()

	res, err := svc.Reauthenticate(ctx, users.get(id), func() bool { return false })
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.Equal(t, 4, users.get(id).LoginAttempts)

	res, err = svc.Reauthenticate(ctx, users.get(id), func() bool { return true })
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	stored := users.get(id)
	assert.Zero(t, stored.LoginAttempts)
	assert.Nil(t, stored.LastLogin)

	for i := 0; i < 4; i++ {
		_, err = svc.Reauthenticate(ctx, users.get(id), func() bool { return false })
		require.NoError(t, err)
	}
	res, err = svc.Reauthenticate(ctx, users.get(id), func() bool { return false })
	require.NoError(t, err)
	assert.True(t, res.Locked)
	assert.NotNil(t, users.get(id).LockUntil)
}

func TestLockedErrorCarriesRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	err := LockedError(now.Add(90*time.Second), now)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrAccountLocked.Code, appErr.Code)
	assert.Equal(t, int64(90), appErr.Details["retry_after_seconds"])
	assert.Equal(t, "2025-03-01T09:01:30Z", appErr.Details["locked_until"])

	appErr = appErrors.FromError(LockedError(now, now))
	assert.Equal(t, int64(1), appErr.Details["retry_after_seconds"])
}
