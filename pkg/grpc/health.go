package grpc

import (
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/goclaw/memoria/pkg/grpc/memoryv1"
)

// HealthServer reports the memory service through grpc.health.v1, both
// under its own name and as the server-wide "" entry.
type HealthServer struct {
	server *health.Server
}

// NewHealthServer creates a health server that reports NOT_SERVING until
// SetServing is called.
func NewHealthServer() *HealthServer {
	h := &HealthServer{server: health.NewServer()}
	h.SetServing(false)
	return h
}

// SetServing flips the reported status.
func (h *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(memoryv1.ServiceName, status)
}

// Shutdown marks everything NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// GetServer returns the underlying health server for registration
func (h *HealthServer) GetServer() *health.Server {
	return h.server
}
