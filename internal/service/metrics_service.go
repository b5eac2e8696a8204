package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/account-api/internal/models"
)

// Login outcomes used as metric labels.
const (
	LoginOutcomeSuccess  = "success"
	LoginOutcomeInvalid  = "invalid"
	LoginOutcomeLocked   = "locked"
	LoginOutcomeInactive = "inactive"
)

// Refresh outcomes used as metric labels.
const (
	RefreshOutcomeRotated  = "rotated"
	RefreshOutcomeRejected = "rejected"
	RefreshOutcomeReused   = "reused"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	loginTotal      *prometheus.CounterVec
	lockoutTotal    prometheus.Counter
	refreshTotal    *prometheus.CounterVec
	reclaimedTotal  *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	sweepFailures   prometheus.Counter
	sessionGauge    *prometheus.GaugeVec
	activityDropped prometheus.Counter

	requestCount         uint64
	requestDurationTotal uint64
	loginSuccessCount    uint64
	loginFailureCount    uint64
	lockoutCount         uint64
	rotationCount        uint64
	reuseCount           uint64
	reclaimedCount       uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	loginTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	lockoutTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts locked after repeated failures",
	})

	refreshTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_total",
		Help: "Refresh attempts by outcome",
	}, []string{"outcome"})

	reclaimedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_cleanup_reclaimed_total",
		Help: "Rows reclaimed by the cleanup scheduler",
	}, []string{"kind"})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_cleanup_duration_seconds",
		Help:    "Duration of cleanup sweeps",
		Buckets: prometheus.DefBuckets,
	})

	sweepFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_cleanup_failures_total",
		Help: "Cleanup sweeps that failed",
	})

	sessionGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sessions",
		Help: "Sessions by state as of the last sweep",
	}, []string{"state"})

	activityDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_activity_dropped_total",
		Help: "Activity updates dropped because the queue was full",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, loginTotal, lockoutTotal, refreshTotal, reclaimedTotal,
		sweepDuration, sweepFailures, sessionGauge, activityDropped, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		loginTotal:      loginTotal,
		lockoutTotal:    lockoutTotal,
		refreshTotal:    refreshTotal,
		reclaimedTotal:  reclaimedTotal,
		sweepDuration:   sweepDuration,
		sweepFailures:   sweepFailures,
		sessionGauge:    sessionGauge,
		activityDropped: activityDropped,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordLogin counts a login attempt by outcome.
func (m *MetricsService) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(outcome).Inc()
	if outcome == LoginOutcomeSuccess {
		atomic.AddUint64(&m.loginSuccessCount, 1)
	} else {
		atomic.AddUint64(&m.loginFailureCount, 1)
	}
}

// RecordLockout counts an account transitioning into the locked state.
func (m *MetricsService) RecordLockout() {
	if m == nil {
		return
	}
	m.lockoutTotal.Inc()
	atomic.AddUint64(&m.lockoutCount, 1)
}

// RecordRefresh counts a refresh attempt by outcome.
func (m *MetricsService) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
	switch outcome {
	case RefreshOutcomeRotated:
		atomic.AddUint64(&m.rotationCount, 1)
	case RefreshOutcomeReused:
		atomic.AddUint64(&m.reuseCount, 1)
	}
}

// RecordSweep records a completed cleanup pass.
func (m *MetricsService) RecordSweep(result models.CleanupResult, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	m.reclaimedTotal.WithLabelValues("expired_sessions").Add(float64(result.ExpiredSessions))
	m.reclaimedTotal.WithLabelValues("stale_locks").Add(float64(result.StaleLocks))
	atomic.AddUint64(&m.reclaimedCount, uint64(result.ExpiredSessions))
}

// RecordForcedSweep records an administrative purge of inactive sessions.
func (m *MetricsService) RecordForcedSweep(deleted int64) {
	if m == nil {
		return
	}
	m.reclaimedTotal.WithLabelValues("forced_inactive").Add(float64(deleted))
	atomic.AddUint64(&m.reclaimedCount, uint64(deleted))
}

// RecordSweepFailure counts a failed cleanup pass.
func (m *MetricsService) RecordSweepFailure() {
	if m == nil {
		return
	}
	m.sweepFailures.Inc()
}

// SetSessionStatistics publishes the latest session counts.
func (m *MetricsService) SetSessionStatistics(stats models.SessionStatistics) {
	if m == nil {
		return
	}
	m.sessionGauge.WithLabelValues("active").Set(float64(stats.Active))
	m.sessionGauge.WithLabelValues("inactive").Set(float64(stats.Inactive))
	m.sessionGauge.WithLabelValues("total").Set(float64(stats.Total))
}

// RecordActivityDropped counts an activity update that could not be queued.
func (m *MetricsService) RecordActivityDropped() {
	if m == nil {
		return
	}
	m.activityDropped.Inc()
}

// Snapshot returns aggregated metrics suitable for admin endpoints.
func (m *MetricsService) Snapshot() models.MetricsSnapshot {
	if m == nil {
		return models.MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		LoginSuccesses:           atomic.LoadUint64(&m.loginSuccessCount),
		LoginFailures:            atomic.LoadUint64(&m.loginFailureCount),
		Lockouts:                 atomic.LoadUint64(&m.lockoutCount),
		RefreshRotations:         atomic.LoadUint64(&m.rotationCount),
		RefreshReuseDetections:   atomic.LoadUint64(&m.reuseCount),
		SessionsReclaimed:        atomic.LoadUint64(&m.reclaimedCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
