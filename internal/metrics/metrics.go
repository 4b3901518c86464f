// Package metrics exposes Prometheus instrumentation for assistance sessions,
// the suggestion cache and the alert provider.
//
// All methods are safe on a nil *Metrics, so callers that run without
// instrumentation (tests, the CLI) can pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vulndash"

// Session outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the collectors registered by New.
type Metrics struct {
	// SessionsTotal counts finished sessions.
	// Labels: outcome (completed, failed, cancelled), kind (error kind or empty)
	SessionsTotal *prometheus.CounterVec

	// ActiveSessions is 1 while a session holds the single-flight guard.
	ActiveSessions prometheus.Gauge

	// RejectedTotal counts requests refused because a session was already active.
	RejectedTotal prometheus.Counter

	// TimeToFirstChunkSeconds measures latency to the first partial event.
	TimeToFirstChunkSeconds prometheus.Histogram

	// SessionDurationSeconds measures start to terminal event.
	// Labels: outcome
	SessionDurationSeconds *prometheus.HistogramVec

	// CacheLookupsTotal counts cache lookups.
	// Labels: result (hit, miss)
	CacheLookupsTotal *prometheus.CounterVec

	// CacheErrorsTotal counts degraded cache operations.
	// Labels: op (get, put, clear, sweep)
	CacheErrorsTotal *prometheus.CounterVec

	// GitHubRequestsTotal counts provider calls to the GitHub API.
	// Labels: op (repos, code_search, alerts), status (ok, error, skipped)
	GitHubRequestsTotal *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
// Passing prometheus.DefaultRegisterer twice panics on duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assist",
			Name:      "sessions_total",
			Help:      "Finished assistance sessions by outcome and error kind",
		}, []string{"outcome", "kind"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "assist",
			Name:      "active_sessions",
			Help:      "Sessions currently holding the single-flight guard",
		}),
		RejectedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assist",
			Name:      "rejected_total",
			Help:      "Requests rejected because a session was already in progress",
		}),
		TimeToFirstChunkSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assist",
			Name:      "time_to_first_chunk_seconds",
			Help:      "Time from session start to the first streamed chunk",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SessionDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assist",
			Name:      "session_duration_seconds",
			Help:      "Time from session start to its terminal event",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		CacheLookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Suggestion cache lookups by result",
		}, []string{"result"}),
		CacheErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Suggestion cache operations that failed and were degraded",
		}, []string{"op"}),
		GitHubRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "github",
			Name:      "requests_total",
			Help:      "GitHub API calls by operation and status",
		}, []string{"op", "status"}),
	}
}

// SessionStarted marks the single-flight guard as held.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionFinished records a terminal event and releases the guard gauge.
func (m *Metrics) SessionFinished(outcome, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(outcome, kind).Inc()
	m.SessionDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// SessionRejected counts an AlreadyInProgress refusal.
func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}
	m.RejectedTotal.Inc()
}

// FirstChunk records time to the first partial event.
func (m *Metrics) FirstChunk(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstChunkSeconds.Observe(elapsed.Seconds())
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// CacheError counts a degraded cache operation.
func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(op).Inc()
}

// GitHubRequest counts one GitHub API call.
func (m *Metrics) GitHubRequest(op, status string) {
	if m == nil {
		return
	}
	m.GitHubRequestsTotal.WithLabelValues(op, status).Inc()
}
