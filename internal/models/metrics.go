package models

import "time"

// SystemMetrics is a lightweight snapshot of process counters served on /metrics/summary.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	AcceptsTotal             uint64    `json:"accepts_total"`
	AcceptConflicts          uint64    `json:"accept_conflicts"`
	LockTimeouts             uint64    `json:"lock_timeouts"`
	JoinRequestsTotal        uint64    `json:"join_requests_total"`
	RateLimited              uint64    `json:"rate_limited"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
