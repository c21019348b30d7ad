package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initTransportMetrics registers the request collectors of the HTTP API and
// the gRPC service. Both share the latency buckets.
func (m *Manager) initTransportMetrics(cfg Config) {
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route pattern and status",
	}, []string{"method", "path", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: cfg.HTTPDurationBuckets,
	}, []string{"method", "path"})
	m.httpConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_active_connections",
		Help: "HTTP requests currently being served",
	})

	m.grpcRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "gRPC calls by full method and status code",
	}, []string{"method", "code"})
	m.grpcDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds",
		Buckets: cfg.HTTPDurationBuckets,
	}, []string{"method"})
	m.grpcInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grpc_in_flight",
		Help: "gRPC calls currently being served",
	}, []string{"method"})

	m.registry.MustRegister(
		m.httpRequests, m.httpDuration, m.httpConnections,
		m.grpcRequests, m.grpcDuration, m.grpcInflight,
	)
}

// RecordHTTPRequest counts a finished request and its latency.
func (m *Manager) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	observeSeconds(ctx, m.httpDuration.WithLabelValues(method, path), duration)
}

func (m *Manager) IncActiveConnections() {
	if m.enabled {
		m.httpConnections.Inc()
	}
}

func (m *Manager) DecActiveConnections() {
	if m.enabled {
		m.httpConnections.Dec()
	}
}

// RecordGRPCRequest counts a finished unary call and its latency.
func (m *Manager) RecordGRPCRequest(ctx context.Context, method, code string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.grpcRequests.WithLabelValues(method, code).Inc()
	observeSeconds(ctx, m.grpcDuration.WithLabelValues(method), duration)
}

func (m *Manager) IncGRPCInflight(method string) {
	if m.enabled {
		m.grpcInflight.WithLabelValues(method).Inc()
	}
}

func (m *Manager) DecGRPCInflight(method string) {
	if m.enabled {
		m.grpcInflight.WithLabelValues(method).Dec()
	}
}
