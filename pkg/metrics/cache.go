package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initCacheMetrics() {
	m.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_lookups_total",
			Help: "Embeddings cache lookups by result",
		},
		[]string{"result"},
	)
	m.registry.MustRegister(m.cacheLookups)
}

// RecordCacheLookup records an embeddings cache hit or miss.
func (m *Manager) RecordCacheLookup(hit bool) {
	if !m.enabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
