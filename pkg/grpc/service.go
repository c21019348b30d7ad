package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/goclaw/memoria/pkg/grpc/memoryv1"
	"github.com/goclaw/memoria/pkg/memory"
)

const (
	defaultImportance  = 0.5
	defaultSearchLimit = 5
)

// MemoryService implements memoryv1.MemoryServiceServer on an Engine.
type MemoryService struct {
	memoryv1.UnimplementedMemoryServiceServer
	engine *memory.Engine
}

// NewMemoryService wraps eng.
func NewMemoryService(eng *memory.Engine) *MemoryService {
	return &MemoryService{engine: eng}
}

// Register adds the memory service to s.
func (m *MemoryService) Register(s *Server) {
	memoryv1.RegisterMemoryServiceServer(s, m)
}

func (m *MemoryService) Remember(ctx context.Context, req *memoryv1.RememberRequest) (*memoryv1.RememberResponse, error) {
	importance := defaultImportance
	if req.Importance != nil {
		importance = *req.Importance
	}
	var opts []memory.RememberOption
	if req.Category != "" {
		c, err := memory.ParseCategory(req.Category)
		if err != nil {
			return nil, toStatus(err)
		}
		opts = append(opts, memory.WithCategory(c))
	}
	if req.Source != "" {
		src, err := memory.ParseSource(req.Source)
		if err != nil {
			return nil, toStatus(err)
		}
		opts = append(opts, memory.WithSource(src))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, memory.WithMetadata(req.Metadata))
	}

	res, err := m.engine.Remember(ctx, req.EntityID, req.Content, importance, opts...)
	if err != nil {
		return nil, toStatus(err)
	}
	return &memoryv1.RememberResponse{
		ID:                 res.ID,
		Accepted:           !res.Rejected(),
		Rejection:          string(res.Rejection),
		Duplicate:          res.Duplicate,
		PromotionScheduled: res.PromotionScheduled,
	}, nil
}

func (m *MemoryService) Retrieve(ctx context.Context, req *memoryv1.RetrieveRequest) (*memoryv1.RetrieveResponse, error) {
	if err := memory.ValidateEntityID(req.EntityID); err != nil {
		return nil, toStatus(err)
	}
	return &memoryv1.RetrieveResponse{Context: m.engine.Retrieve(ctx, req.EntityID, req.Query)}, nil
}

func (m *MemoryService) Search(ctx context.Context, req *memoryv1.SearchRequest) (*memoryv1.SearchResponse, error) {
	limit := req.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}
	hits, err := m.engine.RetrieveResults(ctx, req.EntityID, req.Query, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &memoryv1.SearchResponse{Results: make([]memoryv1.SearchHit, 0, len(hits))}
	for _, h := range hits {
		out.Results = append(out.Results, memoryv1.SearchHit{
			ID:         h.Entry.ID,
			Content:    h.Entry.Content,
			Category:   string(h.Entry.Category),
			Source:     string(h.Entry.Source),
			Importance: h.Entry.Importance,
			Timestamp:  h.Entry.Timestamp,
			Similarity: h.Similarity,
			Score:      h.Score,
		})
	}
	return out, nil
}

func (m *MemoryService) SwitchEntity(ctx context.Context, req *memoryv1.SwitchEntityRequest) (*memoryv1.SwitchEntityResponse, error) {
	rec, err := m.engine.SwitchEntity(ctx, req.From, req.To, req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	return &memoryv1.SwitchEntityResponse{
		Seq:       rec.Seq,
		From:      rec.From,
		To:        rec.To,
		Reason:    rec.Reason,
		Timestamp: rec.Timestamp,
	}, nil
}

func (m *MemoryService) Recall(ctx context.Context, req *memoryv1.RecallRequest) (*memoryv1.RecallResponse, error) {
	if err := memory.ValidateEntityID(req.EntityID); err != nil {
		return nil, toStatus(err)
	}
	prompt, ok := m.engine.Surface(ctx, req.EntityID, req.Text)
	return &memoryv1.RecallResponse{Surfaced: ok, Prompt: prompt}, nil
}

func (m *MemoryService) Promote(ctx context.Context, req *memoryv1.PromoteRequest) (*memoryv1.PromoteResponse, error) {
	if req.ID == "" {
		res, err := m.engine.PromoteAll(ctx, req.EntityID)
		if err != nil {
			return nil, toStatus(err)
		}
		return &memoryv1.PromoteResponse{
			Promoted: res.Promoted,
			Merged:   res.Merged,
			Skipped:  res.Skipped,
			Failed:   res.Failed,
			Canceled: res.Canceled,
		}, nil
	}

	ok, err := m.engine.ForcePromotion(ctx, req.EntityID, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	state, err := m.engine.State(ctx, req.EntityID, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok && state == memory.StateUnknown {
		return nil, status.Errorf(codes.NotFound, "memory %q not found", req.ID)
	}
	out := &memoryv1.PromoteResponse{State: state.String()}
	if ok {
		out.Promoted = 1
	} else {
		out.Skipped = 1
	}
	return out, nil
}

func (m *MemoryService) Stats(ctx context.Context, _ *memoryv1.StatsRequest) (*memoryv1.StatsResponse, error) {
	st := m.engine.Stats(ctx)
	out := &memoryv1.StatsResponse{
		Entities:       make([]memoryv1.EntityStats, 0, len(st.Entities)),
		SharedMemories: st.SharedMemories,
		EntitySwitches: st.EntitySwitches,
		Failures:       st.Failures,
		Running:        st.Running,
	}
	for _, e := range st.Entities {
		out.Entities = append(out.Entities, memoryv1.EntityStats{
			EntityID:  e.EntityID,
			ShortTerm: e.ShortTerm.Size,
			LongTerm:  e.LongTerm,
		})
	}
	return out, nil
}

// toStatus maps engine errors onto gRPC codes. Unexpected errors are
// reported without their message.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, memory.ErrInvalidEntityID),
		errors.Is(err, memory.ErrUnknownCategory),
		errors.Is(err, memory.ErrUnknownSource),
		errors.Is(err, memory.ErrDimensionMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, memory.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, memory.ErrNotShareable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, memory.ErrEngineClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
