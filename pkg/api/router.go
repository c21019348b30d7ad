// Package api assembles the HTTP API of the memory service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/goclaw/memoria/config"
	"github.com/goclaw/memoria/pkg/api/handlers"
	"github.com/goclaw/memoria/pkg/api/middleware"
	"github.com/goclaw/memoria/pkg/api/response"
	"github.com/goclaw/memoria/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Memory serves the entity memory endpoints.
	Memory *handlers.MemoryHandler

	// Health serves the probes.
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder.
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a chi router with the middleware chain and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	r.Use(middleware.Logger(log))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "route not found", middleware.GetRequestID(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.ErrCodeMethodNotAllowed, "method not allowed", middleware.GetRequestID(r.Context()))
	})

	var limit func(http.Handler) http.Handler
	if cfg.Server.RateLimit.Enabled {
		limit = middleware.RateLimit(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst)
	} else {
		limit = middleware.RateLimit(0, 0)
	}

	RegisterRoutes(r, h, limit)
	return r
}

// RegisterRoutes registers all API routes. Write routes go through limit.
func RegisterRoutes(r chi.Router, h *Handlers, limit func(http.Handler) http.Handler) {
	if h.Memory != nil {
		m := h.Memory
		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/entities/{entityID}", func(r chi.Router) {
				r.Get("/context", m.Context)
				r.Get("/search", m.Search)
				r.Get("/stats", m.TierStats)
				r.Get("/memories/{id}", m.State)

				r.Group(func(r chi.Router) {
					r.Use(limit)
					r.Post("/memories", m.Remember)
					r.Post("/memories/{id}/promote", m.ForcePromote)
					r.Post("/promote", m.Promote)
					r.Post("/recall", m.Recall)
				})
			})

			r.With(limit).Post("/switch", m.Switch)
			r.Get("/shared/{category}", m.Shared)
			r.Get("/history", m.History)
			r.Get("/stats", m.Stats)
		})
	}

	// Probes are not versioned.
	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
	}
}
