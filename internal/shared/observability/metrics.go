package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_graph_nodes_total",
		Help: "Total number of nodes in the topology graph.",
	})

	CacheEntriesFull = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_transitive_cache_entries_full",
		Help: "Current number of memoized full-variant transitive graphs.",
	})

	CacheEntriesExplicit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_transitive_cache_entries_explicit_only",
		Help: "Current number of memoized explicit-only transitive graphs.",
	})

	EventsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlas_events_applied_total",
		Help: "Total number of topology events applied to graph state.",
	})

	EventsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlas_events_rejected_total",
		Help: "Total number of malformed events rejected at the ingestion boundary.",
	})

	CanonicalEmitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlas_canonical_emits_total",
		Help: "Total number of canonical graphs durably emitted to the sink.",
	})

	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_canonical_recompute_seconds",
		Help:    "Time spent deriving the canonical graph after an event.",
		Buckets: prometheus.DefBuckets,
	})

	SinkRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlas_sink_retry_total",
		Help: "Total number of sink emit retries due to SinkUnavailable.",
	})

	SnapshotSaveTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlas_snapshot_save_total",
		Help: "Total number of graph state snapshots saved to persistence.",
	})

	SnapshotSaveLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_snapshot_save_seconds",
		Help:    "Latency for saving a graph state snapshot.",
		Buckets: prometheus.DefBuckets,
	})
)
