// Package vectorstore provides Prometheus metrics for the semantic cache index.
package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesTotal tracks live entry counts by entry type.
	EntriesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "noeticd",
			Subsystem: "vectorstore",
			Name:      "entries_total",
			Help:      "Live entry count by entry type",
		},
		[]string{"entry_type"},
	)

	// SearchDuration tracks Store.Search latency.
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "noeticd",
			Subsystem: "vectorstore",
			Name:      "search_duration_seconds",
			Help:      "Duration of Store.Search calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// SearchHitTotal counts cache probes by hit/miss outcome.
	SearchHitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noeticd",
			Subsystem: "vectorstore",
			Name:      "search_hits_total",
			Help:      "Semantic cache probes by outcome",
		},
		[]string{"outcome"}, // hit, miss
	)

	// EvictionSweepDuration tracks how long a TTL eviction sweep takes.
	EvictionSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "noeticd",
			Subsystem: "vectorstore",
			Name:      "eviction_sweep_duration_seconds",
			Help:      "Duration of an eviction sweep across all entry types",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// EvictedTotal counts entries removed by TTL eviction, by entry type.
	EvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noeticd",
			Subsystem: "vectorstore",
			Name:      "evicted_total",
			Help:      "Entries removed by TTL eviction",
		},
		[]string{"entry_type"},
	)

	// PromoteTotal counts entries copied from the agent tier into the
	// shared tier by Store.Promote.
	PromoteTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "noeticd",
			Subsystem: "vectorstore",
			Name:      "promoted_entries_total",
			Help:      "Entries copied from the agent tier to the shared tier",
		},
	)

	// FallbackActive reports whether a FallbackStore is currently serving
	// from its local secondary (1) or its remote primary (0).
	FallbackActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "noeticd",
			Subsystem: "vectorstore",
			Name:      "fallback_active",
			Help:      "1 when a fallback store is serving from its local secondary",
		},
	)
)

// ObserveSearch records a completed search's latency and hit/miss outcome.
func ObserveSearch(provider string, duration time.Duration, hit bool) {
	SearchDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if hit {
		SearchHitTotal.WithLabelValues("hit").Inc()
	} else {
		SearchHitTotal.WithLabelValues("miss").Inc()
	}
}

// ObserveEviction records one sweep's duration and per-type deletions.
func ObserveEviction(duration time.Duration, deletedByType map[string]int) {
	EvictionSweepDuration.Observe(duration.Seconds())
	for entryType, n := range deletedByType {
		EvictedTotal.WithLabelValues(entryType).Add(float64(n))
	}
}
