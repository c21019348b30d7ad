package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/memoria/config"
	"github.com/goclaw/memoria/pkg/storage"
	"github.com/goclaw/memoria/pkg/storage/badger"
	memstore "github.com/goclaw/memoria/pkg/storage/memory"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Memory.Cache.Backend = "none"
	cfg.Memory.Embedding.Dimension = 256
	// Keep promotions on the sweep so tests control when they happen.
	cfg.Memory.Promotion.ImmediateThreshold = 1
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, db storage.Store, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(cfg, db, opts...)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func TestEngine_RememberAndRetrieve(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), memstore.NewMemoryStorage())

	res, err := e.Remember(ctx, "ana", "Ana lives in São Paulo", 0.9)
	require.NoError(t, err)
	require.False(t, res.Rejected())

	_, err = e.PromoteAll(ctx, "ana")
	require.NoError(t, err)

	state, err := e.State(ctx, "ana", res.ID)
	require.NoError(t, err)
	assert.Equal(t, StateLongTerm, state)

	block := e.Retrieve(ctx, "ana", "where does Ana live")
	assert.Contains(t, block, "São Paulo")
	assert.Contains(t, block, "[user_info]")
}

func TestEngine_RetrieveIncludesRecentNotes(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), nil)

	_, err := e.Remember(ctx, "ana", "Ana is thinking about adopting a puppy", 0.2)
	require.NoError(t, err)

	block := e.Retrieve(ctx, "ana", "puppy")
	assert.Contains(t, block, "Recent notes:")
	assert.Contains(t, block, "adopting a puppy")
}

func TestEngine_RejectsShortContent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), nil)

	res, err := e.Remember(ctx, "ana", "hi", 0.9)
	require.NoError(t, err)
	assert.Equal(t, RejectTooShort, res.Rejection)
	assert.Empty(t, res.ID)

	stats, err := e.TierStats(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ShortTerm.Size)
}

func TestEngine_InvalidInput(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), nil)

	_, err := e.Remember(ctx, "not valid!", "a perfectly fine sentence", 0.5)
	assert.ErrorIs(t, err, ErrInvalidEntityID)

	_, err = e.Remember(ctx, "ana", "a perfectly fine sentence", 0.5, WithCategory("gossip"))
	assert.ErrorIs(t, err, ErrUnknownCategory)

	assert.Empty(t, e.Retrieve(ctx, "not valid!", "anything"))
	assert.Positive(t, e.Failures())
}

func TestEngine_ClassifiesAndTagsSource(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), nil)

	res, err := e.Remember(ctx, "ana", "I really like spicy food", 0.8, WithSource(SourceFaceRecognition))
	require.NoError(t, err)
	_, err = e.PromoteAll(ctx, "ana")
	require.NoError(t, err)

	tm, err := e.Tier(ctx, "ana")
	require.NoError(t, err)
	entry, ok := tm.LongTerm().Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, CategoryPreference, entry.Category)
	assert.Equal(t, SourceFaceRecognition, entry.Source)
}

func TestEngine_RejectsUnknownSource(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), nil)

	_, err := e.Remember(ctx, "ana", "I really like spicy food", 0.8, WithSource("banana"))
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = e.Remember(ctx, "ana", "I really like spicy food", 0.8,
		WithMetadata(map[string]string{MetaSource: "banana"}))
	assert.ErrorIs(t, err, ErrUnknownSource)

	src, err := ParseSource(" Preference ")
	require.NoError(t, err)
	assert.Equal(t, SourcePreference, src)
}

func TestEngine_TierBuiltOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), memstore.NewMemoryStorage())

	const workers = 10
	tiers := make([]*TierManager, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tm, err := e.Tier(ctx, "ana")
			assert.NoError(t, err)
			tiers[i] = tm
		}(i)
	}
	close(start)
	wg.Wait()

	for _, tm := range tiers {
		assert.Same(t, tiers[0], tm)
	}
	_, built := e.shared.Peek()
	assert.True(t, built)
	assert.Equal(t, 1, e.tiers.Len())
}

func TestEngine_SwitchEntitySharesProfile(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), memstore.NewMemoryStorage())

	_, err := e.Remember(ctx, "ana", "my name is Rui and I live in Porto", 0.8)
	require.NoError(t, err)
	_, err = e.Remember(ctx, "ana", "I feel nervous about the exam", 0.8)
	require.NoError(t, err)

	rec, err := e.SwitchEntity(ctx, "ana", "bob", "user asked for bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Seq)

	shared, err := e.SharedMemories(ctx, CategoryUserInfo)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, "ana", shared[0].Origin)

	emotions, err := e.SharedMemories(ctx, CategoryEmotion)
	require.NoError(t, err)
	assert.Empty(t, emotions)

	hits, err := e.RetrieveResults(ctx, "bob", "where does Rui live", 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Entry.Content, "Porto")

	history, err := e.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "bob", history[0].To)
}

func TestEngine_RetrieveDegradesOnEncoderFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), nil, WithEncoder(&mapEncoder{dim: 3}))

	assert.Empty(t, e.Retrieve(ctx, "ana", "anything at all"))
	assert.EqualValues(t, 1, e.Failures())
}

func TestEngine_RetrieveHonorsTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Memory.QueryTimeout = 20 * time.Millisecond
	e := newTestEngine(t, cfg, nil, WithEncoder(slowEncoder{delay: time.Second}))

	start := time.Now()
	assert.Empty(t, e.Retrieve(context.Background(), "ana", "anything"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestEngine_RunMaintenance(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := testConfig()
	cfg.Memory.Consolidation.Interval = time.Hour
	e := newTestEngine(t, cfg, memstore.NewMemoryStorage(), WithClock(clock.Now))

	_, err := e.Remember(ctx, "ana", "Ana has two brothers", 0.8, WithCategory(CategoryUserInfo))
	require.NoError(t, err)
	_, err = e.Remember(ctx, "bob", "Bob collects vinyl records", 0.9, WithCategory(CategoryFact))
	require.NoError(t, err)
	_, err = e.Remember(ctx, "bob", "something bob barely cares about", 0.1)
	require.NoError(t, err)

	report := e.RunMaintenance(ctx)
	assert.Equal(t, 2, report.Entities)
	assert.Equal(t, 2, report.Promotion.Promoted)
	assert.Empty(t, report.Consolidation, "consolidation should wait for its interval")

	clock.Advance(2 * time.Hour)
	report = e.RunMaintenance(ctx)
	assert.NotEmpty(t, report.Consolidation)
}

func TestEngine_Consolidate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), nil)
	tm, err := e.Tier(ctx, "ana")
	require.NoError(t, err)

	dim := tm.LongTerm().Dimension()
	vec := make([]float32, dim)
	vec[0] = 1
	_, err = tm.LongTerm().Add(ctx, &MemoryEntry{ID: "a", Content: "likes tea", Importance: 0.4, Vector: vec})
	require.NoError(t, err)
	_, err = tm.LongTerm().Add(ctx, &MemoryEntry{ID: "b", Content: "loves tea", Importance: 0.9, Vector: vec})
	require.NoError(t, err)

	results, err := e.Consolidate(ctx)
	require.NoError(t, err)
	removed := 0
	for _, r := range results {
		removed += r.Removed
	}
	assert.Equal(t, 1, removed)

	state, err := e.State(ctx, "ana", "a")
	require.NoError(t, err)
	assert.Equal(t, StateConsolidated, state)
}

func TestEngine_ApplyTuning(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), nil)
	tm, err := e.Tier(ctx, "ana")
	require.NoError(t, err)

	tuning := e.Tuning()
	tuning.ImportanceThreshold = 0.3
	e.ApplyTuning(tuning)

	assert.Equal(t, 0.3, tm.Tuning().ImportanceThreshold)
	other, err := e.Tier(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0.3, other.Tuning().ImportanceThreshold)
}

func TestEngine_Surface(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testConfig(), nil)

	_, err := e.Remember(ctx, "ana", "Ana's dog is called Pipoca", 0.9, WithCategory(CategoryUserInfo))
	require.NoError(t, err)
	_, err = e.PromoteAll(ctx, "ana")
	require.NoError(t, err)

	prompt, ok := e.Surface(ctx, "ana", "do you remember Ana's dog?")
	require.True(t, ok)
	assert.Contains(t, prompt, "Pipoca")
}

func TestEngine_StartStop(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Memory.Promotion.SweepInterval = 10 * time.Millisecond
	e := NewEngine(cfg, nil)

	require.NoError(t, e.Start(ctx))
	assert.Error(t, e.Start(ctx))
	assert.True(t, e.Stats(ctx).Running)

	_, err := e.Remember(ctx, "ana", "Ana runs every morning", 0.9)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := e.TierStats(ctx, "ana")
		return err == nil && st.LongTerm == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Stop(ctx))
	require.NoError(t, e.Stop(ctx))

	_, err = e.Remember(ctx, "ana", "Ana runs every evening", 0.9)
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.ErrorIs(t, e.Start(ctx), ErrEngineClosed)
	assert.Empty(t, e.Retrieve(ctx, "ana", "running"))
}

func TestEngine_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Memory.Cache.Backend = "sqlite"
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "embeddings.db")

	db, err := badger.NewBadgerStorage(&badger.Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	first := NewEngine(cfg, db)
	res, err := first.Remember(ctx, "ana", "Ana was born in Recife", 0.9)
	require.NoError(t, err)
	_, err = first.PromoteAll(ctx, "ana")
	require.NoError(t, err)
	_, err = first.SwitchEntity(ctx, "ana", "bob", "")
	require.NoError(t, err)
	require.NoError(t, first.Stop(ctx))

	second := newTestEngine(t, cfg, db)
	state, err := second.State(ctx, "ana", res.ID)
	require.NoError(t, err)
	assert.Equal(t, StateLongTerm, state)

	history, err := second.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	stats := second.Stats(ctx)
	require.NotNil(t, stats.Cache)
	assert.Equal(t, "sqlite", stats.Cache.Backend)
	assert.False(t, stats.Cache.Degraded)
}

type slowEncoder struct {
	delay time.Duration
}

func (slowEncoder) Dimension() int { return 4 }

func (s slowEncoder) Encode(ctx context.Context, _ string) ([]float32, error) {
	select {
	case <-time.After(s.delay):
		return []float32{1, 0, 0, 0}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
