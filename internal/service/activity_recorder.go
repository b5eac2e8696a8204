package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/account-api/pkg/jobs"
)

const (
	activityJobType   = "session.activity"
	activityKeyPrefix = "account-api:activity:"
)

type activityStore interface {
	TouchActivity(ctx context.Context, id string, at time.Time) error
}

type activityGate interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ActivityRecorderConfig tunes the background activity writer.
type ActivityRecorderConfig struct {
	Debounce     time.Duration
	Workers      int
	BufferSize   int
	StoreTimeout time.Duration
}

// ActivityRecorder applies last_activity updates off the request path. Each
// session is written at most once per debounce window across replicas.
type ActivityRecorder struct {
	store   activityStore
	gate    activityGate
	queue   *jobs.Queue
	cfg     ActivityRecorderConfig
	metrics *MetricsService
	logger  *zap.Logger
}

// NewActivityRecorder builds a recorder backed by a jobs.Queue worker pool.
func NewActivityRecorder(store activityStore, gate activityGate, cfg ActivityRecorderConfig, metrics *MetricsService, logger *zap.Logger) *ActivityRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Minute
	}
	r := &ActivityRecorder{store: store, gate: gate, cfg: cfg, metrics: metrics, logger: logger}
	r.queue = jobs.NewQueue("session-activity", r.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: 2,
		RetryDelay: time.Second,
		Logger:     logger,
	})
	return r
}

// Start launches the workers.
func (r *ActivityRecorder) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop drains nothing; pending touches are dropped.
func (r *ActivityRecorder) Stop() {
	r.queue.Stop()
}

// Touch schedules a last_activity update without blocking.
func (r *ActivityRecorder) Touch(sessionID string, at time.Time) {
	if r == nil || sessionID == "" {
		return
	}
	if err := r.queue.TryEnqueue(jobs.Job{ID: sessionID, Type: activityJobType, Payload: at}); err != nil {
		r.metrics.RecordActivityDropped()
		r.logger.Debug("session activity dropped", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (r *ActivityRecorder) handle(ctx context.Context, job jobs.Job) error {
	at, ok := job.Payload.(time.Time)
	if !ok {
		return nil
	}

	// retries skip the gate; the first attempt already claimed the window
	if job.Attempt == 0 && r.gate != nil {
		gctx, cancel := storeContext(ctx, r.cfg.StoreTimeout)
		first, err := r.gate.MarkOnce(gctx, activityKeyPrefix+job.ID, r.cfg.Debounce)
		cancel()
		if err != nil {
			r.logger.Debug("activity debounce unavailable", zap.Error(err))
		} else if !first {
			return nil
		}
	}

	sctx, cancel := storeContext(ctx, r.cfg.StoreTimeout)
	defer cancel()
	if err := r.store.TouchActivity(sctx, job.ID, at); err != nil {
		return fmt.Errorf("touch session %s: %w", job.ID, err)
	}
	return nil
}
