package models

import "time"

// MetricsSnapshot is an aggregated view of in-process counters.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	LoginSuccesses           uint64    `json:"login_successes"`
	LoginFailures            uint64    `json:"login_failures"`
	Lockouts                 uint64    `json:"lockouts"`
	RefreshRotations         uint64    `json:"refresh_rotations"`
	RefreshReuseDetections   uint64    `json:"refresh_reuse_detections"`
	SessionsReclaimed        uint64    `json:"sessions_reclaimed"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
