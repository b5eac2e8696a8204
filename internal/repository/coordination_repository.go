package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CoordinationRepository wraps the optional Redis client used for best-effort
// cross-replica coordination. With no client every claim succeeds.
type CoordinationRepository struct {
	client *redis.Client
	holder string
	logger *zap.Logger
}

// NewCoordinationRepository constructs a coordination repository.
func NewCoordinationRepository(client *redis.Client, logger *zap.Logger) *CoordinationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoordinationRepository{client: client, holder: uuid.NewString(), logger: logger}
}

// Enabled reports whether a Redis client is configured.
func (r *CoordinationRepository) Enabled() bool {
	return r != nil && r.client != nil
}

// AcquireLease claims key for ttl. False means another holder owns it.
func (r *CoordinationRepository) AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.claim(ctx, key, r.holder, ttl)
}

// MarkOnce returns true the first time key is seen within ttl.
func (r *CoordinationRepository) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.claim(ctx, key, "1", ttl)
}

func (r *CoordinationRepository) claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if !r.Enabled() {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Ping checks connectivity; a disabled repository is always healthy.
func (r *CoordinationRepository) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CoordinationRepository) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Close()
}
