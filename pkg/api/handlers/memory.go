package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/goclaw/memoria/pkg/api/response"
	"github.com/goclaw/memoria/pkg/logger"
	"github.com/goclaw/memoria/pkg/memory"
)

const (
	defaultImportance = 0.5
	maxSearchLimit    = 50
)

// MemoryHandler serves the entity memory endpoints.
type MemoryHandler struct {
	engine       *memory.Engine
	logger       logger.Logger
	validator    *validator.Validate
	maxBodyBytes int64
	defaultLimit int
}

// MemoryHandlerOptions tunes request handling.
type MemoryHandlerOptions struct {
	// MaxBodyBytes bounds JSON bodies; zero uses DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// DefaultLimit is the search limit when the client sends none.
	DefaultLimit int
}

// NewMemoryHandler creates a memory handler.
func NewMemoryHandler(eng *memory.Engine, log logger.Logger, opts MemoryHandlerOptions) *MemoryHandler {
	if log == nil {
		log = logger.Nop()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 5
	}
	return &MemoryHandler{
		engine:       eng,
		logger:       log,
		validator:    validator.New(),
		maxBodyBytes: opts.MaxBodyBytes,
		defaultLimit: opts.DefaultLimit,
	}
}

// RememberRequest is the body of POST /entities/{entityID}/memories.
type RememberRequest struct {
	Content    string            `json:"content" validate:"required,max=8192"`
	Importance *float64          `json:"importance,omitempty" validate:"omitempty,min=0,max=1"`
	Category   string            `json:"category,omitempty"`
	Source     string            `json:"source,omitempty" validate:"omitempty,max=64"`
	Metadata   map[string]string `json:"metadata,omitempty" validate:"omitempty,max=32"`
}

// SwitchRequest is the body of POST /switch.
type SwitchRequest struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"omitempty,max=256"`
}

// RecallRequest is the body of POST /entities/{entityID}/recall.
type RecallRequest struct {
	Text string `json:"text" validate:"required,max=8192"`
}

// RecallResponse reports whether a memory surfaced.
type RecallResponse struct {
	Surfaced bool   `json:"surfaced"`
	Prompt   string `json:"prompt,omitempty"`
}

// ContextResponse carries the rendered retrieval block.
type ContextResponse struct {
	EntityID string `json:"entity_id"`
	Query    string `json:"query"`
	Context  string `json:"context"`
}

// SearchResponse carries ranked retrieval hits.
type SearchResponse struct {
	EntityID string               `json:"entity_id"`
	Query    string               `json:"query"`
	Results  []memory.ScoredEntry `json:"results"`
}

// StateResponse reports an entry's lifecycle state.
type StateResponse struct {
	ID       string            `json:"id"`
	State    memory.EntryState `json:"state"`
	Promoted *bool             `json:"promoted,omitempty"`
}

func (h *MemoryHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	err = engineError(err)
	if response.HTTPStatusFromError(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "memory request failed", "op", op, "error", err)
	}
	response.HandleError(w, err, getRequestID(r.Context()))
}

// Remember handles POST /api/v1/entities/{entityID}/memories.
// Accepted content answers 201; rejected or duplicate content answers 200
// with the reason in the body.
func (h *MemoryHandler) Remember(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	var req RememberRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, h.validator, &req); err != nil {
		h.fail(w, r, "remember", err)
		return
	}

	importance := defaultImportance
	if req.Importance != nil {
		importance = *req.Importance
	}
	var opts []memory.RememberOption
	if req.Category != "" {
		c, err := memory.ParseCategory(req.Category)
		if err != nil {
			h.fail(w, r, "remember", err)
			return
		}
		opts = append(opts, memory.WithCategory(c))
	}
	if req.Source != "" {
		src, err := memory.ParseSource(req.Source)
		if err != nil {
			h.fail(w, r, "remember", err)
			return
		}
		opts = append(opts, memory.WithSource(src))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, memory.WithMetadata(req.Metadata))
	}

	res, err := h.engine.Remember(r.Context(), entityID, req.Content, importance, opts...)
	if err != nil {
		h.fail(w, r, "remember", err)
		return
	}

	status := http.StatusCreated
	if res.Rejected() || res.Duplicate {
		status = http.StatusOK
	}
	response.JSON(w, status, res)
}

// Context handles GET /api/v1/entities/{entityID}/context?query=.
func (h *MemoryHandler) Context(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "query parameter is required", getRequestID(r.Context()))
		return
	}
	if err := memory.ValidateEntityID(entityID); err != nil {
		h.fail(w, r, "context", err)
		return
	}

	response.JSON(w, http.StatusOK, ContextResponse{
		EntityID: entityID,
		Query:    query,
		Context:  h.engine.Retrieve(r.Context(), entityID, query),
	})
}

// Search handles GET /api/v1/entities/{entityID}/search?query=&limit=.
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "query parameter is required", getRequestID(r.Context()))
		return
	}
	limit, err := queryInt(r, "limit", h.defaultLimit, maxSearchLimit)
	if err != nil {
		h.fail(w, r, "search", err)
		return
	}

	results, err := h.engine.RetrieveResults(r.Context(), entityID, query, limit)
	if err != nil {
		h.fail(w, r, "search", err)
		return
	}
	if results == nil {
		results = []memory.ScoredEntry{}
	}
	response.JSON(w, http.StatusOK, SearchResponse{EntityID: entityID, Query: query, Results: results})
}

// Promote handles POST /api/v1/entities/{entityID}/promote.
func (h *MemoryHandler) Promote(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.PromoteAll(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		h.fail(w, r, "promote", err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// ForcePromote handles POST /api/v1/entities/{entityID}/memories/{id}/promote.
func (h *MemoryHandler) ForcePromote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityID, id := chi.URLParam(r, "entityID"), chi.URLParam(r, "id")

	ok, err := h.engine.ForcePromotion(ctx, entityID, id)
	if err != nil {
		h.fail(w, r, "force_promote", err)
		return
	}
	state, err := h.engine.State(ctx, entityID, id)
	if err != nil {
		h.fail(w, r, "force_promote", err)
		return
	}
	if !ok && state == memory.StateUnknown {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "memory not found", getRequestID(ctx))
		return
	}
	response.JSON(w, http.StatusOK, StateResponse{ID: id, State: state, Promoted: &ok})
}

// State handles GET /api/v1/entities/{entityID}/memories/{id}.
func (h *MemoryHandler) State(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := h.engine.State(r.Context(), chi.URLParam(r, "entityID"), id)
	if err != nil {
		h.fail(w, r, "state", err)
		return
	}
	if state == memory.StateUnknown {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "memory not found", getRequestID(r.Context()))
		return
	}
	response.JSON(w, http.StatusOK, StateResponse{ID: id, State: state})
}

// TierStats handles GET /api/v1/entities/{entityID}/stats.
func (h *MemoryHandler) TierStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.TierStats(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		h.fail(w, r, "tier_stats", err)
		return
	}
	response.JSON(w, http.StatusOK, stats)
}

// Recall handles POST /api/v1/entities/{entityID}/recall.
func (h *MemoryHandler) Recall(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	var req RecallRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, h.validator, &req); err != nil {
		h.fail(w, r, "recall", err)
		return
	}
	if err := memory.ValidateEntityID(entityID); err != nil {
		h.fail(w, r, "recall", err)
		return
	}

	prompt, ok := h.engine.Surface(r.Context(), entityID, req.Text)
	response.JSON(w, http.StatusOK, RecallResponse{Surfaced: ok, Prompt: prompt})
}

// Switch handles POST /api/v1/switch.
func (h *MemoryHandler) Switch(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, h.validator, &req); err != nil {
		h.fail(w, r, "switch", err)
		return
	}

	rec, err := h.engine.SwitchEntity(r.Context(), req.From, req.To, req.Reason)
	if err != nil {
		h.fail(w, r, "switch", err)
		return
	}
	response.JSON(w, http.StatusCreated, rec)
}

// Shared handles GET /api/v1/shared/{category}.
func (h *MemoryHandler) Shared(w http.ResponseWriter, r *http.Request) {
	category, err := memory.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		h.fail(w, r, "shared", err)
		return
	}
	shared, err := h.engine.SharedMemories(r.Context(), category)
	if err != nil {
		h.fail(w, r, "shared", err)
		return
	}
	if shared == nil {
		shared = []memory.SharedMemory{}
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"category": category,
		"memories": shared,
	})
}

// History handles GET /api/v1/history.
func (h *MemoryHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.engine.History(r.Context())
	if err != nil {
		h.fail(w, r, "history", err)
		return
	}
	if history == nil {
		history = []memory.EntitySwitchRecord{}
	}
	response.JSON(w, http.StatusOK, map[string]any{"switches": history})
}

// Stats handles GET /api/v1/stats.
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.engine.Stats(r.Context()))
}
