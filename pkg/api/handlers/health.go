package handlers

import (
	"net/http"

	"github.com/goclaw/memoria/pkg/api/response"
	"github.com/goclaw/memoria/pkg/memory"
	"github.com/goclaw/memoria/pkg/version"
)

// HealthHandler handles the probe endpoints.
type HealthHandler struct {
	engine *memory.Engine
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(eng *memory.Engine) *HealthHandler {
	return &HealthHandler{engine: eng}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"build":  version.Current(),
	})
}

// Ready handles the /ready endpoint. The service is ready while the
// maintenance loop runs.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine.Running() {
		response.JSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	response.JSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
}
