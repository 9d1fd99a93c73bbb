// Package telemetry provides application-level observability for the third
// space API: the global slog logger and the Prometheus metric set.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by cmd/server (default port
// 9090, path /metrics). The endpoint is not part of the Gin router, so it is
// never subject to authentication or rate limiting.
//
// HTTP metrics are labelled by c.FullPath() (the route template, e.g.
// /api/v1/library/articles/:slug) rather than the raw URL to prevent unbounded
// label cardinality from caller-supplied path segments such as slugs.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts processed requests by method, route template,
	// and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration is a latency histogram by method and route template.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// AuthOutcomesTotal counts authentication attempts by method (api_key,
	// session) and outcome (ok, unauthenticated, locked).
	AuthOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_outcomes_total",
			Help: "Authentication attempts by credential kind and outcome.",
		},
		[]string{"method", "outcome"},
	)

	// LockoutsTotal counts account lockouts triggered by the failure threshold.
	LockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "account_lockouts_total",
			Help: "Number of times an account was locked after repeated authentication failures.",
		},
	)

	// RateLimitRejectionsTotal counts requests rejected by the per-credential
	// fixed-window limiter, by operation class.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by the per-credential rate limiter, by operation class.",
		},
		[]string{"class"},
	)

	// IdempotencyOutcomesTotal counts idempotency coordinator outcomes:
	// proceed, replay, conflict, in_progress.
	IdempotencyOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_outcomes_total",
			Help: "Idempotency coordinator outcomes for writes carrying an idempotency token.",
		},
		[]string{"outcome"},
	)

	// VersionConflictsTotal counts optimistic-concurrency edit rejections.
	VersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "version_conflicts_total",
			Help: "Edits rejected because the supplied resource version was stale.",
		},
	)

	// DBConnectionsInUse reports the database pool's in-use connection count.
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use.",
		},
	)

	// DBConnectionsIdle reports the database pool's idle connection count.
	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections in the pool.",
		},
	)
)

// StartDBStatsCollector polls database pool statistics every 30 seconds and
// exports them as gauges. It runs until the process exits; the goroutine is
// cheap and there is exactly one per process.
func StartDBStatsCollector(db *sqlx.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			DBConnectionsInUse.Set(float64(stats.InUse))
			DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}()
	slog.Debug("database pool stats collector started")
}
