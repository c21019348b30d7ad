package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/memoria/config"
	"github.com/goclaw/memoria/pkg/embedding"
	"github.com/goclaw/memoria/pkg/lazy"
	"github.com/goclaw/memoria/pkg/logger"
	"github.com/goclaw/memoria/pkg/storage"
)

// Engine is the application context of the memory system. It owns the
// encoder, the embeddings cache, the global store and one tier manager and
// recall gate per entity, each built on first use.
type Engine struct {
	cfg     config.MemoryConfig
	db      storage.Store
	log     logger.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
	decay   *DecayPolicy
	now     func() time.Time
	tuning  atomic.Pointer[Tuning]

	cacheOpts       embedding.Options
	encoderOverride embedding.Encoder

	cache   *lazy.Value[*embedding.Cache]
	encoder *lazy.Value[embedding.Encoder]
	global  *lazy.Value[*VectorStore]
	shared  *lazy.Value[*CrossEntityMemory]
	tiers   *lazy.Group[string, *TierManager]
	recalls *lazy.Group[string, *ProactiveRecall]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	schedMu           sync.Mutex
	lastConsolidation time.Time
	lastCacheCleanup  time.Time

	closed   atomic.Bool
	failures atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for engine spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithEncoder replaces the configured encoder. The encoder is used as is,
// without the embeddings cache in front of it.
func WithEncoder(enc embedding.Encoder) Option {
	return func(e *Engine) { e.encoderOverride = enc }
}

// WithCacheOptions replaces the embeddings cache options derived from the
// configuration.
func WithCacheOptions(opts embedding.Options) Option {
	return func(e *Engine) { e.cacheOpts = opts }
}

// WithClock sets the clock used for decay and maintenance scheduling.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. Nothing is opened until first use. A nil db
// keeps long-term memories in process memory only.
func NewEngine(cfg *config.Config, db storage.Store, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		cfg: cfg.Memory,
		db:  db,
		now: time.Now,
		cacheOpts: embedding.Options{
			Backend:       cfg.Memory.Cache.Backend,
			SQLitePath:    cfg.Storage.SQLite.Path,
			BusyTimeout:   cfg.Storage.SQLite.BusyTimeout,
			RedisAddr:     cfg.Storage.Redis.Address,
			RedisPassword: cfg.Storage.Redis.Password,
			RedisDB:       cfg.Storage.Redis.DB,
			RedisPrefix:   cfg.Storage.Redis.KeyPrefix,
			HotEntries:    cfg.Memory.Cache.HotEntries,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.cacheOpts.Logger == nil {
		e.cacheOpts.Logger = e.log
	}
	if r, ok := e.metrics.(embedding.Recorder); ok && e.cacheOpts.Recorder == nil {
		e.cacheOpts.Recorder = r
	}
	e.decay = DecayPolicyFromConfig(e.cfg.Decay, e.now)
	t := TuningFromConfig(e.cfg)
	e.tuning.Store(&t)
	e.lastConsolidation = e.now()
	e.lastCacheCleanup = e.now()

	e.cache = lazy.New("embeddings_cache", e.buildCache)
	e.encoder = lazy.New("encoder", e.buildEncoder)
	e.global = lazy.New("global_store", e.buildGlobal)
	e.shared = lazy.New("cross_entity_memory", e.buildShared)
	e.tiers = lazy.NewGroup("tier_manager", e.buildTier)
	e.recalls = lazy.NewGroup("proactive_recall", e.buildRecall)
	return e
}

func (e *Engine) buildCache(ctx context.Context) (*embedding.Cache, error) {
	return embedding.Open(ctx, e.cacheOpts), nil
}

func (e *Engine) buildEncoder(ctx context.Context) (embedding.Encoder, error) {
	if e.encoderOverride != nil {
		return e.encoderOverride, nil
	}
	var base embedding.Encoder
	switch e.cfg.Embedding.Provider {
	case "hash", "":
		enc, err := embedding.NewHashEncoder(e.cfg.Embedding.Dimension)
		if err != nil {
			return nil, err
		}
		base = enc
	default:
		return nil, fmt.Errorf("memory: unknown embedding provider %q", e.cfg.Embedding.Provider)
	}
	cache, err := e.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return embedding.NewCachedEncoder(base, cache), nil
}

func (e *Engine) vectorStoreOptions() VectorStoreOptions {
	return VectorStoreOptions{Timeout: e.cfg.StorageTimeout, Logger: e.log, Now: e.now}
}

func (e *Engine) buildGlobal(ctx context.Context) (*VectorStore, error) {
	enc, err := e.encoder.Get(ctx)
	if err != nil {
		return nil, err
	}
	return OpenVectorStore(ctx, e.db, GlobalScope{}, enc.Dimension(), e.vectorStoreOptions())
}

func (e *Engine) buildShared(ctx context.Context) (*CrossEntityMemory, error) {
	global, err := e.global.Get(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := e.encoder.Get(ctx)
	if err != nil {
		return nil, err
	}
	var categories []Category
	for _, name := range e.cfg.Sharing.Categories {
		c, err := ParseCategory(name)
		if err != nil {
			e.log.Warn("ignoring shareable category", "category", name, "error", err)
			continue
		}
		categories = append(categories, c)
	}
	return NewCrossEntityMemory(ctx, global, e.db, CrossEntityOptions{
		Categories: categories,
		Encoder:    enc,
		Timeout:    e.cfg.StorageTimeout,
		Logger:     e.log,
		Now:        e.now,
	})
}

func (e *Engine) buildTier(ctx context.Context, entityID string) (*TierManager, error) {
	enc, err := e.encoder.Get(ctx)
	if err != nil {
		return nil, err
	}
	long, err := OpenVectorStore(ctx, e.db, EntityScope{ID: entityID}, enc.Dimension(), e.vectorStoreOptions())
	if err != nil {
		return nil, err
	}
	shared, err := e.shared.Get(ctx)
	if err != nil {
		e.log.WarnContext(ctx, "shared memory unavailable; entity runs without it", "entity_id", entityID, "error", err)
		e.metrics.RecordFailure("shared_load")
		shared = nil
	}

	tuning := e.Tuning()
	short := NewShortTermMemory(ShortTermOptions{
		MaxSize:             e.cfg.ShortTerm.MaxSize,
		TTL:                 e.cfg.ShortTerm.TTL,
		MinContentLength:    e.cfg.ShortTerm.MinContentLength,
		ImportanceThreshold: tuning.ImportanceThreshold,
		AccessThreshold:     tuning.AccessThreshold,
		OnEvict: func(ShortTermEntry) {
			e.metrics.RecordEviction(entityID)
		},
		Now: e.now,
	})
	tm := NewTierManager(entityID, short, long, enc, shared, TierOptions{
		Tuning:    tuning,
		AutoShare: e.cfg.Sharing.AutoShare,
		QueueSize: e.cfg.Promotion.QueueSize,
		Decay:     e.decay,
		Logger:    e.log,
		Metrics:   e.metrics,
		Tracer:    e.tracer,
	})
	e.log.DebugContext(ctx, "tier manager ready", "entity_id", entityID, "long_term", long.Count())
	return tm, nil
}

func (e *Engine) buildRecall(ctx context.Context, entityID string) (*ProactiveRecall, error) {
	tm, err := e.tiers.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	shared, _ := e.shared.Peek()
	return NewProactiveRecall(tm, shared, RecallOptions{
		Enabled:        e.cfg.Recall.Enabled,
		MaxPromptChars: e.cfg.Recall.MaxPromptChars,
		Logger:         e.log,
		Metrics:        e.metrics,
	}), nil
}

// Tuning returns the current thresholds.
func (e *Engine) Tuning() Tuning {
	return *e.tuning.Load()
}

// ApplyTuning replaces the thresholds for the engine and every loaded entity.
func (e *Engine) ApplyTuning(t Tuning) {
	e.tuning.Store(&t)
	e.tiers.Range(func(_ string, tm *TierManager) bool {
		tm.SetTuning(t)
		return true
	})
	e.log.Info("memory tuning applied",
		"entities", e.tiers.Len(),
		"importance_threshold", t.ImportanceThreshold,
		"immediate_threshold", t.ImmediateThreshold,
		"recall_cooldown", t.RecallCooldown,
	)
}

// Tier returns the entity's tier manager, building it on first use.
func (e *Engine) Tier(ctx context.Context, entityID string) (*TierManager, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := ValidateEntityID(entityID); err != nil {
		return nil, err
	}
	return e.tiers.Get(ctx, entityID)
}

// Recall returns the entity's proactive recall gate.
func (e *Engine) Recall(ctx context.Context, entityID string) (*ProactiveRecall, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := ValidateEntityID(entityID); err != nil {
		return nil, err
	}
	return e.recalls.Get(ctx, entityID)
}

// Shared returns the cross-entity memory.
func (e *Engine) Shared(ctx context.Context) (*CrossEntityMemory, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.shared.Get(ctx)
}

// RememberOption adjusts a Remember call.
type RememberOption func(*rememberOptions)

type rememberOptions struct {
	category Category
	source   Source
	metadata map[string]string
}

// WithCategory sets the category instead of classifying the content.
func WithCategory(c Category) RememberOption {
	return func(o *rememberOptions) { o.category = c }
}

// WithSource records where the memory came from.
func WithSource(s Source) RememberOption {
	return func(o *rememberOptions) { o.source = s }
}

// WithMetadata attaches metadata to the memory.
func WithMetadata(m map[string]string) RememberOption {
	return func(o *rememberOptions) { o.metadata = m }
}

// Remember buffers content for entityID. Rejected content is reported in
// the result, not as an error.
func (e *Engine) Remember(ctx context.Context, entityID, content string, importance float64, opts ...RememberOption) (WriteResult, error) {
	var ro rememberOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.category == "" {
		ro.category = ClassifyCategory(content)
	} else if !ro.category.Valid() {
		return WriteResult{}, fmt.Errorf("%w: %q", ErrUnknownCategory, ro.category)
	}

	tm, err := e.Tier(ctx, entityID)
	if err != nil {
		e.degrade(ctx, "remember", err)
		return WriteResult{}, err
	}

	meta := cloneMetadata(ro.metadata)
	if ro.source != "" {
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		meta[MetaSource] = string(ro.source)
	}
	if s, ok := meta[MetaSource]; ok && !Source(s).Valid() {
		return WriteResult{}, fmt.Errorf("%w: %q", ErrUnknownSource, s)
	}
	return tm.AddShortTerm(ctx, content, importance, ro.category, meta), nil
}

// Retrieve renders the memories most relevant to query as a bounded text
// block. It never fails: errors and timeouts give an empty block.
func (e *Engine) Retrieve(ctx context.Context, entityID, query string) string {
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	type outcome struct {
		text string
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		text, err := e.retrieveText(ctx, entityID, query)
		ch <- outcome{text: text, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			e.degrade(ctx, "retrieve", out.err)
			return ""
		}
		return out.text
	case <-ctx.Done():
		e.degrade(ctx, "retrieve", ctx.Err())
		return ""
	}
}

func (e *Engine) retrieveText(ctx context.Context, entityID, query string) (string, error) {
	hits, err := e.RetrieveResults(ctx, entityID, query, 0)
	if err != nil {
		return "", err
	}
	tm, err := e.Tier(ctx, entityID)
	if err != nil {
		return "", err
	}
	notes := tm.short.Get(query, 3)
	return renderContext(hits, notes, e.Tuning().MaxContextChars), nil
}

// RetrieveResults ranks the entity's long-term memories and the shared pool
// against query. A non-positive limit uses the configured top-k.
func (e *Engine) RetrieveResults(ctx context.Context, entityID, query string, limit int) ([]ScoredEntry, error) {
	ctx, span := e.tracer.Start(ctx, "memory.retrieve",
		trace.WithAttributes(attribute.String("memory.entity_id", entityID)))
	defer span.End()
	start := time.Now()

	if limit <= 0 {
		limit = e.cfg.RetrieveTopK
	}
	tm, err := e.Tier(ctx, entityID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	vec, err := tm.encoder.Encode(ctx, query)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("memory: encode query: %w", err)
	}

	hits, err := tm.searchVector(ctx, vec, limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if shared, ok := e.shared.Peek(); ok {
		t := e.Tuning()
		sharedHits, err := shared.Search(ctx, vec, 0, t.MinSimilarity)
		if err != nil {
			e.log.WarnContext(ctx, "shared memory search failed", "error", err)
		} else {
			hits = mergeHits(hits, rankDecayed(sharedHits, e.decay, t.RelevanceFloor, limit), limit)
		}
	}

	span.SetAttributes(attribute.Int("memory.hits", len(hits)))
	e.metrics.RecordRetrieval(entityID, time.Since(start), len(hits))
	return hits, nil
}

// mergeHits combines ranked lists, keeping the best hit per content.
func mergeHits(a, b []ScoredEntry, limit int) []ScoredEntry {
	seen := make(map[string]int, len(a)+len(b))
	out := make([]ScoredEntry, 0, len(a)+len(b))
	for _, list := range [][]ScoredEntry{a, b} {
		for _, h := range list {
			key := embedding.ContentKey(h.Entry.Content)
			if i, ok := seen[key]; ok {
				if h.Score > out[i].Score {
					out[i] = h
				}
				continue
			}
			seen[key] = len(out)
			out = append(out, h)
		}
	}
	sortScored(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SwitchEntity is the persona-switch hook. It records the switch, promotes
// what the outgoing persona has pending and warms the incoming persona.
func (e *Engine) SwitchEntity(ctx context.Context, from, to, reason string) (EntitySwitchRecord, error) {
	shared, err := e.Shared(ctx)
	if err != nil {
		e.degrade(ctx, "switch", err)
		return EntitySwitchRecord{}, err
	}
	rec, err := shared.RecordEntitySwitch(ctx, from, to, reason)
	if err != nil {
		e.degrade(ctx, "switch", err)
		return EntitySwitchRecord{}, err
	}
	e.metrics.RecordEntitySwitch(from, to)

	if from != "" {
		if tm, ok := e.tiers.Peek(from); ok {
			tm.PromoteAllEligible(ctx)
		}
	}
	if _, err := e.Tier(ctx, to); err != nil {
		e.degrade(ctx, "switch_warm", err)
	}
	e.log.InfoContext(ctx, "entity switched", "from", from, "to", to, "reason", reason, "seq", rec.Seq)
	return rec, nil
}

// PromoteAll runs a promotion sweep for one entity.
func (e *Engine) PromoteAll(ctx context.Context, entityID string) (PromotionResult, error) {
	tm, err := e.Tier(ctx, entityID)
	if err != nil {
		return PromotionResult{}, err
	}
	return tm.PromoteAllEligible(ctx), nil
}

// ForcePromotion promotes one short-term entry of an entity regardless of
// thresholds.
func (e *Engine) ForcePromotion(ctx context.Context, entityID, id string) (bool, error) {
	tm, err := e.Tier(ctx, entityID)
	if err != nil {
		return false, err
	}
	return tm.ForcePromotion(ctx, id), nil
}

// TierStats returns one entity's tier counters.
func (e *Engine) TierStats(ctx context.Context, entityID string) (TierStats, error) {
	tm, err := e.Tier(ctx, entityID)
	if err != nil {
		return TierStats{}, err
	}
	return tm.GetTierStats(), nil
}

// State reports an entry's lifecycle state within an entity.
func (e *Engine) State(ctx context.Context, entityID, id string) (EntryState, error) {
	tm, err := e.Tier(ctx, entityID)
	if err != nil {
		return StateUnknown, err
	}
	return tm.State(id), nil
}

// Surface runs proactive recall for an entity. Failures surface nothing.
func (e *Engine) Surface(ctx context.Context, entityID, text string) (string, bool) {
	r, err := e.Recall(ctx, entityID)
	if err != nil {
		e.degrade(ctx, "recall", err)
		return "", false
	}
	return r.Surface(ctx, text)
}

// SharedMemories lists the shared pool of a category, newest first.
func (e *Engine) SharedMemories(ctx context.Context, category Category) ([]SharedMemory, error) {
	shared, err := e.Shared(ctx)
	if err != nil {
		return nil, err
	}
	return shared.GetSharedMemories(category), nil
}

// History returns the entity switch ledger.
func (e *Engine) History(ctx context.Context) ([]EntitySwitchRecord, error) {
	shared, err := e.Shared(ctx)
	if err != nil {
		return nil, err
	}
	return shared.GetEntityHistory(), nil
}

// EngineStats is a diagnostic snapshot.
type EngineStats struct {
	Entities       []TierStats      `json:"entities"`
	SharedMemories int              `json:"shared_memories"`
	EntitySwitches int              `json:"entity_switches"`
	Cache          *embedding.Stats `json:"cache,omitempty"`
	Failures       int64            `json:"failures"`
	Running        bool             `json:"running"`
}

// Stats reports on everything loaded so far without building anything.
func (e *Engine) Stats(ctx context.Context) EngineStats {
	var st EngineStats
	e.tiers.Range(func(_ string, tm *TierManager) bool {
		st.Entities = append(st.Entities, tm.GetTierStats())
		return true
	})
	sort.Slice(st.Entities, func(i, j int) bool {
		return st.Entities[i].EntityID < st.Entities[j].EntityID
	})
	if shared, ok := e.shared.Peek(); ok {
		st.SharedMemories = shared.Size()
		st.EntitySwitches = len(shared.GetEntityHistory())
	}
	if cache, ok := e.cache.Peek(); ok {
		cs := cache.Stats()
		st.Cache = &cs
	}
	st.Failures = e.failures.Load()
	st.Running = e.Running()
	return st
}

// Failures returns how many operations degraded.
func (e *Engine) Failures() int64 {
	return e.failures.Load()
}

// degrade logs and counts a failure that callers absorb.
func (e *Engine) degrade(ctx context.Context, op string, err error) {
	e.failures.Add(1)
	e.metrics.RecordFailure(op)
	e.log.WarnContext(ctx, "memory operation degraded", "op", op, "error", err)
}
