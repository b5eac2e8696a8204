package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/repository"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

type sweepSessionStore interface {
	ListSweepable(ctx context.Context, c repository.SweepCriteria, limit int) ([]string, error)
	DeleteSweepable(ctx context.Context, ids []string, c repository.SweepCriteria) (int64, error)
	DeleteInactive(ctx context.Context) (int64, error)
	Statistics(ctx context.Context, now time.Time) (models.SessionStatistics, error)
}

type sweepLockStore interface {
	ClearStaleLocks(ctx context.Context, cutoff, now time.Time) (int64, error)
}

type leaseAcquirer interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// CleanupConfig tunes the sweeper.
type CleanupConfig struct {
	BatchSize         int
	InactiveRetention time.Duration
	StaleLockGrace    time.Duration
	LeaseKey          string
	StoreTimeout      time.Duration
}

// CleanupStatus describes the scheduler for admin views.
type CleanupStatus struct {
	Running    bool                  `json:"running"`
	Interval   string                `json:"interval,omitempty"`
	LastRun    *time.Time            `json:"last_run,omitempty"`
	LastResult *models.CleanupResult `json:"last_result,omitempty"`
	LastError  string                `json:"last_error,omitempty"`
}

// CleanupScheduler periodically reclaims dead sessions and stale locks. Every
// delete re-checks its predicate, so sweeps from several replicas are safe.
type CleanupScheduler struct {
	sessions sweepSessionStore
	locks    sweepLockStore
	lease    leaseAcquirer
	cfg      CleanupConfig
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	running    bool
	generation uint64
	interval   time.Duration
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	lastRun    time.Time
	lastResult *models.CleanupResult
	lastErr    error
}

// NewCleanupScheduler creates an instance of CleanupScheduler.
func NewCleanupScheduler(sessions sweepSessionStore, locks sweepLockStore, lease leaseAcquirer, cfg CleanupConfig, metrics *MetricsService, logger *zap.Logger) *CleanupScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.InactiveRetention < 0 {
		cfg.InactiveRetention = 0
	}
	if cfg.StaleLockGrace <= 0 {
		cfg.StaleLockGrace = 24 * time.Hour
	}
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = "account-api:session-cleanup"
	}
	return &CleanupScheduler{
		sessions: sessions,
		locks:    locks,
		lease:    lease,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *CleanupScheduler) WithClock(now func() time.Time) *CleanupScheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// Start arms the ticker. Calling Start while running is a no-op.
func (s *CleanupScheduler) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Debug("session cleanup already running")
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.generation++
	s.interval = interval
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(runCtx, interval, s.generation)

	s.logger.Info("session cleanup started", zap.Duration("interval", interval), zap.Int("batch_size", s.cfg.BatchSize))
}

// Stop disarms the ticker and waits for an in-flight sweep to finish.
func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("session cleanup stopped")
}

// Running reports whether the ticker is armed.
func (s *CleanupScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the scheduler state and the last scheduled result.
func (s *CleanupScheduler) Status() CleanupStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := CleanupStatus{Running: s.running, LastResult: s.lastResult}
	if s.running {
		status.Interval = s.interval.String()
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		status.LastRun = &last
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

func (s *CleanupScheduler) loop(ctx context.Context, interval time.Duration, generation uint64) {
	defer s.wg.Done()
	defer s.disarm(generation)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, interval)
		}
	}
}

// disarm clears the running flag when the parent context ends the loop,
// unless Stop or a later Start already replaced this run.
func (s *CleanupScheduler) disarm(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.generation == generation {
		s.running = false
		s.cancel()
		s.logger.Info("session cleanup stopped by context")
	}
}

func (s *CleanupScheduler) tick(ctx context.Context, interval time.Duration) {
	if s.lease != nil {
		lctx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
		acquired, err := s.lease.AcquireLease(lctx, s.cfg.LeaseKey, leaseTTL(interval))
		cancel()
		switch {
		case err != nil:
			s.logger.Debug("cleanup lease unavailable, sweeping anyway", zap.Error(err))
		case !acquired:
			s.logger.Debug("cleanup lease held by another replica")
			return
		}
	}

	result, err := s.RunCleanup(ctx)

	s.mu.Lock()
	s.lastRun = s.now().UTC()
	s.lastResult = &result
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("session cleanup failed, retrying next tick", zap.Error(err))
	}
}

// RunCleanup performs one full pass: expired sessions, stale locks, statistics.
// Partial progress is reported even when a step fails.
func (s *CleanupScheduler) RunCleanup(ctx context.Context) (models.CleanupResult, error) {
	start := time.Now()
	now := s.now().UTC()
	var result models.CleanupResult
	var errs []error

	expired, err := s.sweepExpired(ctx, now)
	result.ExpiredSessions = expired
	if err != nil {
		errs = append(errs, err)
	}

	stale, err := s.sweepStaleLocks(ctx, now)
	result.StaleLocks = stale
	if err != nil {
		errs = append(errs, err)
	}
	result.TotalReclaimed = result.ExpiredSessions + result.StaleLocks

	if stats, err := s.Statistics(ctx); err == nil {
		s.metrics.SetSessionStatistics(stats)
	} else {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		s.metrics.RecordSweepFailure()
		return result, appErrors.Internal(errors.Join(errs...), "session cleanup incomplete")
	}

	s.metrics.RecordSweep(result, time.Since(start))
	s.logger.Info("session cleanup complete",
		zap.Int64("expired_sessions", result.ExpiredSessions),
		zap.Int64("stale_locks", result.StaleLocks),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// ForceCleanupInactive deletes every inactive session, ignoring retention.
func (s *CleanupScheduler) ForceCleanupInactive(ctx context.Context) (int64, error) {
	sctx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	defer cancel()
	n, err := s.sessions.DeleteInactive(sctx)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to purge inactive sessions")
	}
	s.metrics.RecordForcedSweep(n)
	s.logger.Info("forced inactive session purge", zap.Int64("deleted", n))
	return n, nil
}

// Statistics returns active, inactive and total session counts.
func (s *CleanupScheduler) Statistics(ctx context.Context) (models.SessionStatistics, error) {
	sctx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	defer cancel()
	stats, err := s.sessions.Statistics(sctx, s.now().UTC())
	if err != nil {
		return models.SessionStatistics{}, appErrors.Internal(err, "failed to load session statistics")
	}
	return stats, nil
}

func (s *CleanupScheduler) sweepExpired(ctx context.Context, now time.Time) (int64, error) {
	criteria := repository.SweepCriteria{Now: now, InactiveBefore: now.Add(-s.cfg.InactiveRetention)}
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		lctx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
		ids, err := s.sessions.ListSweepable(lctx, criteria, s.cfg.BatchSize)
		cancel()
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		deleted := s.deleteBatch(ctx, ids, criteria)
		total += deleted
		if deleted == 0 || len(ids) < s.cfg.BatchSize {
			return total, nil
		}
	}
}

// deleteBatch removes ids in one statement, falling back to row-by-row so a
// single bad row cannot stall the sweep.
func (s *CleanupScheduler) deleteBatch(ctx context.Context, ids []string, c repository.SweepCriteria) int64 {
	dctx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	n, err := s.sessions.DeleteSweepable(dctx, ids, c)
	cancel()
	if err == nil {
		return n
	}
	s.logger.Warn("batch session delete failed, retrying per row", zap.Int("batch", len(ids)), zap.Error(err))

	var total int64
	for _, id := range ids {
		rctx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
		n, err := s.sessions.DeleteSweepable(rctx, []string{id}, c)
		cancel()
		if err != nil {
			s.logger.Warn("session delete failed, skipping", zap.String("session_id", id), zap.Error(err))
			continue
		}
		total += n
	}
	return total
}

func (s *CleanupScheduler) sweepStaleLocks(ctx context.Context, now time.Time) (int64, error) {
	if s.locks == nil {
		return 0, nil
	}
	sctx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.locks.ClearStaleLocks(sctx, now.Add(-s.cfg.StaleLockGrace), now)
}

// leaseTTL keeps the lease shorter than the interval so the next tick can claim it.
func leaseTTL(interval time.Duration) time.Duration {
	ttl := interval * 9 / 10
	if ttl <= 0 {
		ttl = interval
	}
	return ttl
}
