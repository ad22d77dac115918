// Package observability provides metrics and tracing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noticeboard_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// Mutations counts board mutations by operation and outcome code.
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noticeboard_mutations_total",
		Help: "Total number of board mutations by operation and outcome",
	}, []string{"operation", "outcome"})

	// Compensations counts saga compensation attempts by saga and outcome.
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noticeboard_saga_compensations_total",
		Help: "Total number of saga compensation attempts",
	}, []string{"saga", "outcome"})

	// DraftEvictions counts drafts removed because they expired or failed to parse.
	DraftEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noticeboard_draft_evictions_total",
		Help: "Total number of evicted drafts by reason",
	}, []string{"kind", "reason"})

	// DatabaseQueryLatency records repository query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "noticeboard_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// LiveConnections is the gauge of open live-refresh websocket connections.
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "noticeboard_live_connections",
		Help: "Number of open live-refresh websocket connections",
	})

	// LiveDrops counts stale-view events dropped due to backpressure.
	LiveDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noticeboard_live_drops_total",
		Help: "Total number of live-refresh events dropped",
	}, []string{"reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// RecordMutation counts one mutation attempt. An empty code means success.
func RecordMutation(operation, code string) {
	outcome := code
	if outcome == "" {
		outcome = "ok"
	}
	Mutations.WithLabelValues(operation, outcome).Inc()
}
