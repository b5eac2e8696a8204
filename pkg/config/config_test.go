package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 5, cfg.Auth.LockThreshold)
	assert.Equal(t, 2*time.Hour, cfg.Auth.LockDuration)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Auth.RefreshReuseGrace)
	assert.Equal(t, cfg.Auth.AccessTokenSecret, cfg.Auth.FingerprintSecret)
	assert.Equal(t, time.Hour, cfg.Cleanup.Interval)
	assert.Equal(t, []string{"image/png", "image/jpeg", "image/gif", "image/webp"}, cfg.Avatars.AllowedMIMEs)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOCK_THRESHOLD", "3")
	t.Setenv("LOCK_DURATION", "30m")
	t.Setenv("TOKEN_FINGERPRINT_SECRET", "fp")
	t.Setenv("SESSION_CLEANUP_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Auth.LockThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Auth.LockDuration)
	assert.Equal(t, "fp", cfg.Auth.FingerprintSecret)
	assert.Equal(t, time.Hour, cfg.Cleanup.Interval)
}

func TestDatabaseURL(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "accounts", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/accounts?sslmode=disable", db.URL())
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=accounts sslmode=disable", db.DSN())
}
