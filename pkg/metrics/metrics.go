// Package metrics provides Prometheus instrumentation for the memory engine
// and its HTTP and gRPC transports.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goclaw/memoria/config"
	"github.com/goclaw/memoria/pkg/embedding"
	"github.com/goclaw/memoria/pkg/memory"
)

var (
	_ memory.MetricsRecorder = (*Manager)(nil)
	_ embedding.Recorder     = (*Manager)(nil)
)

// Manager owns the Prometheus registry and every collector. A disabled
// Manager accepts all calls and records nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Memory metrics
	shortTermWrites  *prometheus.CounterVec
	evictions        *prometheus.CounterVec
	promotions       *prometheus.CounterVec
	retrievalLatency *prometheus.HistogramVec
	retrievalHits    *prometheus.HistogramVec
	recalls          *prometheus.CounterVec
	entitySwitches   *prometheus.CounterVec
	consolidated     *prometheus.CounterVec
	failures         *prometheus.CounterVec
	longTermEntries  *prometheus.GaugeVec

	// Embeddings cache metrics
	cacheLookups *prometheus.CounterVec

	// HTTP metrics
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge

	// gRPC metrics
	grpcRequests *prometheus.CounterVec
	grpcDuration *prometheus.HistogramVec
	grpcInflight *prometheus.GaugeVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	RetrievalDurationBuckets []float64
	HTTPDurationBuckets      []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		Port:                     9091,
		Path:                     "/metrics",
		RetrievalDurationBuckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		HTTPDurationBuckets:      []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// ConfigFrom applies the application's metrics settings to the defaults.
func ConfigFrom(cfg config.MetricsConfig) Config {
	c := DefaultConfig()
	c.Enabled = cfg.Enabled
	if cfg.Port > 0 {
		c.Port = cfg.Port
	}
	if cfg.Path != "" {
		c.Path = cfg.Path
	}
	return c
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()

	// Register Go runtime metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initMemoryMetrics(cfg)
	m.initCacheMetrics()
	m.initTransportMetrics(cfg)

	return m
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartServer serves the metrics endpoint until ctx is done.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}
