package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

// Accept outcomes reported on admission_accept_total.
const (
	OutcomeEnrolled      = "enrolled"
	OutcomeRecruited     = "recruited"
	OutcomeAlreadyMember = "already_member"
	OutcomeNotJoinable   = "not_joinable"
	OutcomeProcessed     = "already_processed"
	OutcomeConflict      = "conflict"
	OutcomeLockTimeout   = "lock_timeout"
	OutcomeError         = "error"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	acceptTotal     *prometheus.CounterVec
	lockWait        prometheus.Histogram
	joinTotal       *prometheus.CounterVec
	rateLimited     prometheus.Counter
	sweepTotal      *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	acceptCount          uint64
	acceptConflictCount  uint64
	lockTimeoutCount     uint64
	joinCount            uint64
	rateLimitedCount     uint64
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

	acceptTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_accept_total",
		Help: "Join request accept attempts by outcome",
	}, []string{"outcome"})

	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "admission_session_lock_wait_seconds",
		Help:    "Time spent acquiring the session row lock",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	joinTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_join_requests_total",
		Help: "Join request submissions by result",
	}, []string{"result"})

	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_join_rate_limited_total",
		Help: "Join submissions rejected by the rate limiter",
	})

	sweepTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_sweeper_sessions_total",
		Help: "Sessions touched by the background sweeper",
	}, []string{"action"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, acceptTotal, lockWait, joinTotal, rateLimited, sweepTotal, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		acceptTotal:     acceptTotal,
		lockWait:        lockWait,
		joinTotal:       joinTotal,
		rateLimited:     rateLimited,
		sweepTotal:      sweepTotal,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordAccept counts an accept attempt by outcome.
func (m *MetricsService) RecordAccept(outcome string) {
	if m == nil {
		return
	}
	m.acceptTotal.WithLabelValues(outcome).Inc()
	switch outcome {
	case OutcomeEnrolled, OutcomeRecruited, OutcomeAlreadyMember:
		atomic.AddUint64(&m.acceptCount, 1)
	case OutcomeLockTimeout:
		atomic.AddUint64(&m.lockTimeoutCount, 1)
	case OutcomeNotJoinable, OutcomeProcessed, OutcomeConflict:
		atomic.AddUint64(&m.acceptConflictCount, 1)
	}
}

// ObserveLockWait records how long a session row lock took to acquire.
func (m *MetricsService) ObserveLockWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(duration.Seconds())
}

// RecordJoinRequest counts a submission by result ("created" or an error code).
func (m *MetricsService) RecordJoinRequest(result string) {
	if m == nil {
		return
	}
	m.joinTotal.WithLabelValues(result).Inc()
	atomic.AddUint64(&m.joinCount, 1)
}

// RecordRateLimited counts a throttled submission.
func (m *MetricsService) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
	atomic.AddUint64(&m.rateLimitedCount, 1)
}

// RecordSweep counts sessions synced or purged by the sweeper.
func (m *MetricsService) RecordSweep(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepTotal.WithLabelValues(action).Add(float64(n))
}

// Snapshot returns aggregated metrics suitable for JSON endpoints.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		AcceptsTotal:             atomic.LoadUint64(&m.acceptCount),
		AcceptConflicts:          atomic.LoadUint64(&m.acceptConflictCount),
		LockTimeouts:             atomic.LoadUint64(&m.lockTimeoutCount),
		JoinRequestsTotal:        atomic.LoadUint64(&m.joinCount),
		RateLimited:              atomic.LoadUint64(&m.rateLimitedCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
