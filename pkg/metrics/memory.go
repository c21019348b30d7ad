package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goclaw/memoria/pkg/memory"
)

// initMemoryMetrics initializes memory engine metrics.
func (m *Manager) initMemoryMetrics(cfg Config) {
	m.shortTermWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_short_term_writes_total",
			Help: "Short-term writes by entity and result",
		},
		[]string{"entity", "result"},
	)
	m.evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_short_term_evictions_total",
			Help: "Short-term entries evicted for capacity",
		},
		[]string{"entity"},
	)
	m.promotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_promotions_total",
			Help: "Promotion attempts by outcome",
		},
		[]string{"entity", "outcome"},
	)
	m.retrievalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_retrieval_duration_seconds",
			Help:    "Long-term retrieval latency in seconds",
			Buckets: cfg.RetrievalDurationBuckets,
		},
		[]string{"entity"},
	)
	m.retrievalHits = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_retrieval_hits",
			Help:    "Hits returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
		[]string{"entity"},
	)
	m.recalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_recalls_total",
			Help: "Memories surfaced by proactive recall",
		},
		[]string{"entity"},
	)
	m.entitySwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_entity_switches_total",
			Help: "Persona switches recorded in the ledger",
		},
		[]string{"from", "to"},
	)
	m.consolidated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_consolidated_total",
			Help: "Long-term entries removed by consolidation",
		},
		[]string{"scope"},
	)
	m.failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_failures_total",
			Help: "Degraded memory operations",
		},
		[]string{"op"},
	)
	m.longTermEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memory_long_term_entries",
			Help: "Entries held by each long-term store",
		},
		[]string{"scope"},
	)

	m.registry.MustRegister(
		m.shortTermWrites,
		m.evictions,
		m.promotions,
		m.retrievalLatency,
		m.retrievalHits,
		m.recalls,
		m.entitySwitches,
		m.consolidated,
		m.failures,
		m.longTermEntries,
	)
}

// RecordShortTermAdd records a short-term write; accepted writes carry an
// empty rejection.
func (m *Manager) RecordShortTermAdd(entityID string, rejection memory.Rejection) {
	if !m.enabled {
		return
	}
	result := "accepted"
	if rejection != memory.RejectNone {
		result = string(rejection)
	}
	m.shortTermWrites.WithLabelValues(entityID, result).Inc()
}

// RecordEviction records a capacity eviction.
func (m *Manager) RecordEviction(entityID string) {
	if !m.enabled {
		return
	}
	m.evictions.WithLabelValues(entityID).Inc()
}

// RecordPromotion records a promotion outcome.
func (m *Manager) RecordPromotion(entityID, outcome string) {
	if !m.enabled {
		return
	}
	m.promotions.WithLabelValues(entityID, outcome).Inc()
}

// RecordRetrieval records retrieval latency and hit count.
func (m *Manager) RecordRetrieval(entityID string, duration time.Duration, hits int) {
	if !m.enabled {
		return
	}
	m.retrievalLatency.WithLabelValues(entityID).Observe(duration.Seconds())
	m.retrievalHits.WithLabelValues(entityID).Observe(float64(hits))
}

// RecordRecall records a surfaced memory.
func (m *Manager) RecordRecall(entityID string) {
	if !m.enabled {
		return
	}
	m.recalls.WithLabelValues(entityID).Inc()
}

// RecordEntitySwitch records a persona switch.
func (m *Manager) RecordEntitySwitch(from, to string) {
	if !m.enabled {
		return
	}
	if from == "" {
		from = "none"
	}
	m.entitySwitches.WithLabelValues(from, to).Inc()
}

// RecordConsolidation records entries removed from a scope.
func (m *Manager) RecordConsolidation(scope string, removed int) {
	if !m.enabled || removed <= 0 {
		return
	}
	m.consolidated.WithLabelValues(scope).Add(float64(removed))
}

// RecordFailure records a degraded operation.
func (m *Manager) RecordFailure(op string) {
	if !m.enabled {
		return
	}
	m.failures.WithLabelValues(op).Inc()
}

// SetLongTermSize sets the entry count of a long-term store.
func (m *Manager) SetLongTermSize(scope string, size int) {
	if !m.enabled {
		return
	}
	m.longTermEntries.WithLabelValues(scope).Set(float64(size))
}
