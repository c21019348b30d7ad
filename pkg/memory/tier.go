package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/memoria/pkg/embedding"
	"github.com/goclaw/memoria/pkg/logger"
)

const tracerName = "github.com/goclaw/memoria/pkg/memory"

// TierOptions configures a TierManager.
type TierOptions struct {
	Tuning Tuning

	// AutoShare copies promoted shareable entries into the shared pool.
	AutoShare bool

	// QueueSize bounds pending immediate promotions.
	QueueSize int

	Decay   *DecayPolicy
	Logger  logger.Logger
	Metrics MetricsRecorder
	Tracer  trace.Tracer
}

// PromotionStats counts promotion outcomes over the manager's lifetime.
type PromotionStats struct {
	Promoted  int64 `json:"promoted"`
	Merged    int64 `json:"merged"`
	// Skipped counts entries left to a promotion already in flight.
	// Entries that left the buffer before being claimed are not counted.
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
	Scheduled int64 `json:"scheduled"`
	Dropped   int64 `json:"dropped"`
}

// PromotionResult summarizes one sweep.
type PromotionResult struct {
	Promoted int  `json:"promoted"`
	Merged   int  `json:"merged"`
	Skipped  int  `json:"skipped"`
	Failed   int  `json:"failed"`
	Canceled bool `json:"canceled,omitempty"`
}

func (r *PromotionResult) add(other PromotionResult) {
	r.Promoted += other.Promoted
	r.Merged += other.Merged
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.Canceled = r.Canceled || other.Canceled
}

// TierStats describes one entity's tiers.
type TierStats struct {
	EntityID  string         `json:"entity_id"`
	ShortTerm ShortTermStats `json:"short_term"`
	Promotion PromotionStats `json:"promotion_stats"`
	LongTerm  int            `json:"long_term"`
}

type alias struct {
	target string
	state  EntryState
}

// TierManager owns one entity's short-term buffer and long-term store and
// moves entries between them. An entry leaves the buffer only after its
// long-term write succeeded; a failed write keeps it for the next sweep.
type TierManager struct {
	entityID  string
	short     *ShortTermMemory
	long      *VectorStore
	shared    *CrossEntityMemory
	encoder   embedding.Encoder
	decay     *DecayPolicy
	tuning    atomic.Pointer[Tuning]
	autoShare bool
	log       logger.Logger
	metrics   MetricsRecorder
	tracer    trace.Tracer

	mu       sync.Mutex
	inflight map[string]struct{}
	pending  map[string]struct{}
	aliases  map[string]alias
	closed   bool

	promoted  atomic.Int64
	merged    atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	scheduled atomic.Int64
	dropped   atomic.Int64

	queue     chan string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewTierManager wires an entity's tiers and starts its promotion worker.
// shared may be nil.
func NewTierManager(entityID string, short *ShortTermMemory, long *VectorStore, enc embedding.Encoder, shared *CrossEntityMemory, opts TierOptions) *TierManager {
	if opts.Tuning == (Tuning{}) {
		opts.Tuning = DefaultTuning()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Decay == nil {
		opts.Decay = defaultDecay
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tm := &TierManager{
		entityID:  entityID,
		short:     short,
		long:      long,
		shared:    shared,
		encoder:   enc,
		decay:     opts.Decay,
		autoShare: opts.AutoShare,
		log:       opts.Logger.With("entity_id", entityID),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		inflight:  make(map[string]struct{}),
		pending:   make(map[string]struct{}),
		aliases:   make(map[string]alias),
		queue:     make(chan string, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	tm.SetTuning(opts.Tuning)

	go tm.run()
	return tm
}

// EntityID returns the owning persona.
func (tm *TierManager) EntityID() string { return tm.entityID }

// ShortTerm returns the entity's buffer.
func (tm *TierManager) ShortTerm() *ShortTermMemory { return tm.short }

// LongTerm returns the entity's long-term store.
func (tm *TierManager) LongTerm() *VectorStore { return tm.long }

// Tuning returns the current thresholds.
func (tm *TierManager) Tuning() Tuning { return *tm.tuning.Load() }

// SetTuning replaces the thresholds.
func (tm *TierManager) SetTuning(t Tuning) {
	tm.tuning.Store(&t)
	tm.short.SetThresholds(t.ImportanceThreshold, t.AccessThreshold)
}

// AddShortTerm buffers content. Entries at or above the immediate threshold
// are queued for promotion without waiting for the sweep; when the queue is
// full they wait for the sweep instead.
func (tm *TierManager) AddShortTerm(ctx context.Context, content string, importance float64, category Category, metadata map[string]string) WriteResult {
	res := tm.short.Add(content, importance, category, metadata)
	tm.metrics.RecordShortTermAdd(tm.entityID, res.Rejection)
	if res.Rejected() {
		tm.log.DebugContext(ctx, "short-term write rejected", "reason", string(res.Rejection))
		return res
	}
	if clampImportance(importance) >= tm.Tuning().ImmediateThreshold {
		res.PromotionScheduled = tm.schedule(res.ID)
	}
	return res
}

// PromoteAllEligible promotes every promotable entry. The sweep checks ctx
// between entries; an entry already started is finished.
func (tm *TierManager) PromoteAllEligible(ctx context.Context) PromotionResult {
	ctx, span := tm.tracer.Start(ctx, "memory.promote_all_eligible",
		trace.WithAttributes(attribute.String("memory.entity_id", tm.entityID)))
	defer span.End()

	var res PromotionResult
	for _, entry := range tm.short.GetPromotable() {
		if ctx.Err() != nil {
			res.Canceled = true
			break
		}
		switch tm.promote(context.WithoutCancel(ctx), entry) {
		case OutcomePromoted:
			res.Promoted++
		case OutcomeMerged:
			res.Merged++
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeFailed:
			res.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("memory.promoted", res.Promoted),
		attribute.Int("memory.merged", res.Merged),
		attribute.Int("memory.failed", res.Failed),
	)
	if res.Failed > 0 {
		span.SetStatus(codes.Error, "promotion failures")
	}
	if res.Promoted+res.Merged+res.Failed > 0 {
		tm.log.InfoContext(ctx, "promotion sweep finished",
			"promoted", res.Promoted,
			"merged", res.Merged,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
	tm.metrics.SetLongTermSize(tm.long.Scope().String(), tm.long.Count())
	return res
}

// ForcePromotion promotes one buffered entry regardless of thresholds.
func (tm *TierManager) ForcePromotion(ctx context.Context, id string) bool {
	entry, ok := tm.short.Lookup(id)
	if !ok {
		return false
	}
	switch tm.promote(context.WithoutCancel(ctx), entry) {
	case OutcomePromoted, OutcomeMerged:
		return true
	}
	return false
}

// GetTierStats returns buffer, promotion and long-term counters.
func (tm *TierManager) GetTierStats() TierStats {
	return TierStats{
		EntityID:  tm.entityID,
		ShortTerm: tm.short.Stats(),
		Promotion: PromotionStats{
			Promoted:  tm.promoted.Load(),
			Merged:    tm.merged.Load(),
			Skipped:   tm.skipped.Load(),
			Failed:    tm.failed.Load(),
			Scheduled: tm.scheduled.Load(),
			Dropped:   tm.dropped.Load(),
		},
		LongTerm: tm.long.Count(),
	}
}

// State reports where id currently is in its lifecycle.
func (tm *TierManager) State(id string) EntryState {
	tm.mu.Lock()
	_, busy := tm.inflight[id]
	_, queued := tm.pending[id]
	a, aliased := tm.aliases[id]
	tm.mu.Unlock()

	if busy || queued {
		return StatePromotionPending
	}
	if entry, ok := tm.long.Get(id); ok {
		if tm.decay.Expired(entry, tm.Tuning().RelevanceFloor) {
			return StateExpired
		}
		return StateLongTerm
	}
	if _, ok := tm.short.Lookup(id); ok {
		return StateShortTerm
	}
	if aliased {
		return a.state
	}
	return StateUnknown
}

// Search ranks long-term entries against query by similarity scaled by
// decay. Expired entries are skipped and hits have their access count
// incremented.
func (tm *TierManager) Search(ctx context.Context, query string, limit int) ([]ScoredEntry, error) {
	vec, err := tm.encoder.Encode(ctx, query)
	if err != nil {
		return nil, err
	}
	return tm.searchVector(ctx, vec, limit)
}

func (tm *TierManager) searchVector(ctx context.Context, vec []float32, limit int) ([]ScoredEntry, error) {
	t := tm.Tuning()
	hits, err := tm.long.Query(vec, 0, t.MinSimilarity)
	if err != nil {
		return nil, err
	}
	ranked := rankDecayed(hits, tm.decay, t.RelevanceFloor, limit)
	for _, h := range ranked {
		if err := tm.long.Touch(ctx, h.Entry.ID); err != nil {
			tm.log.DebugContext(ctx, "touch failed", "id", h.Entry.ID, "error", err)
		}
	}
	return ranked, nil
}

// Close stops the promotion worker. Queued immediate promotions are left
// to the next sweep of a new manager.
func (tm *TierManager) Close() {
	tm.closeOnce.Do(func() {
		tm.mu.Lock()
		tm.closed = true
		tm.mu.Unlock()
		tm.cancel()
		<-tm.done
	})
}

func (tm *TierManager) noteConsolidated(aliases map[string]string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for id, target := range aliases {
		tm.aliases[id] = alias{target: target, state: StateConsolidated}
	}
}

func (tm *TierManager) schedule(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return false
	}
	if _, ok := tm.pending[id]; ok {
		return true
	}
	select {
	case tm.queue <- id:
		tm.pending[id] = struct{}{}
		tm.scheduled.Add(1)
		return true
	default:
		tm.dropped.Add(1)
		return false
	}
}

func (tm *TierManager) run() {
	defer close(tm.done)
	for {
		select {
		case <-tm.ctx.Done():
			return
		case id := <-tm.queue:
			tm.mu.Lock()
			delete(tm.pending, id)
			tm.mu.Unlock()

			entry, ok := tm.short.Lookup(id)
			if !ok {
				continue
			}
			tm.promote(context.WithoutCancel(tm.ctx), entry)
		}
	}
}

func (tm *TierManager) claim(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if _, busy := tm.inflight[id]; busy {
		return false
	}
	tm.inflight[id] = struct{}{}
	return true
}

func (tm *TierManager) release(id string) {
	tm.mu.Lock()
	delete(tm.inflight, id)
	tm.mu.Unlock()
}

// promote writes one entry to long-term storage, merging it into a
// near-identical entry when one exists, and removes it from the buffer
// only after the write succeeded.
func (tm *TierManager) promote(ctx context.Context, entry ShortTermEntry) string {
	if !tm.claim(entry.ID) {
		// Another promoter holds it.
		return tm.outcome(ctx, OutcomeSkipped, entry.ID, nil)
	}
	defer tm.release(entry.ID)

	current, ok := tm.short.Lookup(entry.ID)
	if !ok {
		// Promoted or evicted since the caller's snapshot.
		return outcomeGone
	}

	vec, err := tm.encoder.Encode(ctx, current.Content)
	if err != nil {
		return tm.outcome(ctx, OutcomeFailed, current.ID, err)
	}

	long := &MemoryEntry{
		ID:          current.ID,
		Content:     current.Content,
		Category:    current.Category,
		Horizon:     HorizonFor(current.Importance),
		Source:      current.source(),
		Importance:  current.Importance,
		Timestamp:   current.Timestamp,
		Vector:      vec,
		AccessCount: current.AccessCount,
		Metadata:    cloneMetadata(current.Metadata),
	}
	delete(long.Metadata, MetaSource)

	outcome := OutcomePromoted
	stored := long
	if dup := tm.findDuplicate(vec, current.ID); dup != nil {
		mergeInto(dup, long)
		if err := tm.long.Update(ctx, dup); err != nil {
			return tm.outcome(ctx, OutcomeFailed, current.ID, err)
		}
		outcome = OutcomeMerged
		stored = dup
		tm.mu.Lock()
		tm.aliases[current.ID] = alias{target: dup.ID, state: StateLongTerm}
		tm.mu.Unlock()
	} else if _, err := tm.long.Add(ctx, long); err != nil {
		return tm.outcome(ctx, OutcomeFailed, current.ID, err)
	}

	tm.short.MarkPromoted(current.ID)
	tm.share(ctx, stored)
	return tm.outcome(ctx, outcome, current.ID, nil)
}

func (tm *TierManager) findDuplicate(vec []float32, id string) *MemoryEntry {
	hits, err := tm.long.Query(vec, 1, tm.Tuning().DedupThreshold)
	if err != nil || len(hits) == 0 || hits[0].Entry.ID == id {
		return nil
	}
	return hits[0].Entry
}

func mergeInto(dst, src *MemoryEntry) {
	dst.AccessCount += src.AccessCount + 1
	if src.Importance > dst.Importance {
		dst.Importance = src.Importance
		dst.Horizon = HorizonFor(src.Importance)
	}
	if src.Timestamp.After(dst.Timestamp) {
		dst.Timestamp = src.Timestamp
	}
	if dst.Metadata == nil {
		dst.Metadata = make(map[string]string, 1)
	}
	dst.Metadata[MetaMergedFrom] = joinIDs(dst.Metadata[MetaMergedFrom], []string{src.ID})
}

func (tm *TierManager) share(ctx context.Context, entry *MemoryEntry) {
	if tm.shared == nil || !tm.autoShare || !tm.shared.IsShareable(entry) {
		return
	}
	if _, err := tm.shared.ShareMemory(ctx, entry, tm.entityID); err != nil {
		tm.log.WarnContext(ctx, "auto-share failed", "id", entry.ID, "error", err)
		tm.metrics.RecordFailure("share")
	}
}

func (tm *TierManager) outcome(ctx context.Context, outcome, id string, err error) string {
	switch outcome {
	case OutcomePromoted:
		tm.promoted.Add(1)
	case OutcomeMerged:
		tm.merged.Add(1)
	case OutcomeSkipped:
		tm.skipped.Add(1)
	case OutcomeFailed:
		tm.failed.Add(1)
		tm.metrics.RecordFailure("promote")
		tm.log.WarnContext(ctx, "promotion failed; entry kept for retry", "id", id, "error", err)
	}
	tm.metrics.RecordPromotion(tm.entityID, outcome)
	return outcome
}

// rankDecayed drops expired hits, rescales similarity by decay and keeps
// the best limit.
func rankDecayed(hits []ScoredEntry, p *DecayPolicy, floor float64, limit int) []ScoredEntry {
	out := make([]ScoredEntry, 0, len(hits))
	for _, h := range hits {
		if p.Expired(h.Entry, floor) {
			continue
		}
		h.Score = p.ApplyDecayToScore(h.Similarity, h.Entry.Timestamp, h.Entry.Category)
		out = append(out, h)
	}
	sortScored(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
