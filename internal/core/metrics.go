// ABOUTME: Prometheus instrumentation for ingestion, embedding and retrieval
// ABOUTME: Collectors register on a caller-supplied registry so tests stay isolated
package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's collectors
type Metrics struct {
	TurnsAppended   prometheus.Counter
	WindowsSealed   *prometheus.CounterVec
	Embeds          *prometheus.CounterVec
	EmbedLatency    prometheus.Histogram
	QueueDeferred   prometheus.Counter
	Searches        *prometheus.CounterVec
	SearchLatency   prometheus.Histogram
	DegradedLegs    *prometheus.CounterVec
	TelemetryDrops  prometheus.Counter
	ConflictRetries prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		TurnsAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_turns_appended_total",
			Help: "Turns appended to the ledger",
		}),
		WindowsSealed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_windows_sealed_total",
			Help: "Windows sealed, by experiment group",
		}, []string{"test_group"}),
		Embeds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_embeds_total",
			Help: "Embedding attempts by result (ok, dedup, retry, failed)",
		}, []string{"result"}),
		EmbedLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_embed_duration_seconds",
			Help:    "Latency of embedding provider calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		QueueDeferred: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_embed_queue_deferred_total",
			Help: "Enqueue calls deferred to the sweeper because the queue was full",
		}),
		Searches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_searches_total",
			Help: "Searches by mode (hybrid, recency)",
		}, []string{"mode"}),
		SearchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_search_duration_seconds",
			Help:    "End to end hybrid search latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		DegradedLegs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_search_degraded_total",
			Help: "Retrieval legs that failed or timed out",
		}, []string{"leg"}),
		TelemetryDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_telemetry_dropped_total",
			Help: "Analytics events dropped because the buffer was full or the recorder failed",
		}),
		ConflictRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_ledger_conflict_retries_total",
			Help: "Turn appends retried after an index collision",
		}),
	}
}
