package embedding

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingRecorder struct {
	hits, misses atomic.Int64
}

func (r *countingRecorder) RecordCacheLookup(hit bool) {
	if hit {
		r.hits.Add(1)
	} else {
		r.misses.Add(1)
	}
}

func openSQLiteCache(t *testing.T, clock *fakeClock, hot int64) *Cache {
	t.Helper()
	opts := Options{
		Backend:    BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "embeddings.db"),
		HotEntries: hot,
	}
	if clock != nil {
		opts.Clock = clock.Now
	}
	c := Open(context.Background(), opts)
	require.False(t, c.Degraded())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := openSQLiteCache(t, nil, 0)

	_, ok := c.Get(ctx, "Ana lives in São Paulo")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "Ana lives in São Paulo", []float32{0.25, -1, 3.5}))

	got, ok := c.Get(ctx, "  ana LIVES in são paulo ")
	require.True(t, ok, "normalized text shares the key")
	assert.Equal(t, []float32{0.25, -1, 3.5}, got)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats := c.Stats()
	assert.Equal(t, "sqlite", stats.Backend)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestCache_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "embeddings.db")

	first := Open(ctx, Options{Backend: BackendSQLite, SQLitePath: path})
	require.NoError(t, first.Set(ctx, "likes green tea", []float32{1, 2}))
	require.NoError(t, first.Close())

	second := Open(ctx, Options{Backend: BackendSQLite, SQLitePath: path})
	defer second.Close()
	got, ok := second.Get(ctx, "likes green tea")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)
}

func TestCache_GetOrComputeCallsOnce(t *testing.T) {
	ctx := context.Background()
	for _, hot := range []int64{0, 100} {
		c := openSQLiteCache(t, nil, hot)

		var calls atomic.Int64
		fn := func(context.Context) ([]float32, error) {
			calls.Add(1)
			return []float32{0.5, 0.5}, nil
		}

		for i := 0; i < 5; i++ {
			vec, err := c.GetOrCompute(ctx, "Birthday is March 3rd", fn)
			require.NoError(t, err)
			assert.Equal(t, []float32{0.5, 0.5}, vec)
		}
		assert.Equal(t, int64(1), calls.Load(), "hot=%d", hot)
	}
}

func TestCache_GetOrComputeConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c := openSQLiteCache(t, nil, 100)

	var calls atomic.Int64
	release := make(chan struct{})
	fn := func(context.Context) ([]float32, error) {
		calls.Add(1)
		<-release
		return []float32{1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := c.GetOrCompute(ctx, "same text", fn)
			assert.NoError(t, err)
			assert.Equal(t, []float32{1}, vec)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

func TestCache_GetOrComputeErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := openSQLiteCache(t, nil, 10)

	boom := errors.New("encoder offline")
	_, err := c.GetOrCompute(ctx, "text", func(context.Context) ([]float32, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	vec, err := c.GetOrCompute(ctx, "text", func(context.Context) ([]float32, error) {
		return []float32{7}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, vec)
}

func TestCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := openSQLiteCache(t, nil, 10)
	require.NoError(t, c.Set(ctx, "text", []float32{1, 2}))

	got, ok := c.Get(ctx, "text")
	require.True(t, ok)
	got[0] = 99

	again, ok := c.Get(ctx, "text")
	require.True(t, ok)
	assert.Equal(t, float32(1), again[0])
}

func TestCache_ClearOld(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := openSQLiteCache(t, clock, 10)

	require.NoError(t, c.Set(ctx, "old entry", []float32{1}))
	clock.Advance(40 * 24 * time.Hour)
	require.NoError(t, c.Set(ctx, "fresh entry", []float32{2}))

	n, err := c.ClearOldDays(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := c.Get(ctx, "old entry")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "fresh entry")
	assert.True(t, ok)
}

func TestCache_DegradesWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	c := Open(ctx, Options{
		Backend:    BackendSQLite,
		SQLitePath: filepath.Join(blocker, "embeddings.db"),
	})
	defer c.Close()

	assert.True(t, c.Degraded())
	assert.Equal(t, "none", c.Backend())

	var calls int
	for i := 0; i < 2; i++ {
		vec, err := c.GetOrCompute(ctx, "still works", func(context.Context) ([]float32, error) {
			calls++
			return []float32{3}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []float32{3}, vec)
	}
	assert.Equal(t, 2, calls, "pass-through recomputes every time")
	assert.True(t, c.Stats().Degraded)
}

func TestCache_UnknownBackendDegrades(t *testing.T) {
	c := Open(context.Background(), Options{Backend: "memcached"})
	assert.True(t, c.Degraded())
}

func TestCache_Recorder(t *testing.T) {
	ctx := context.Background()
	rec := &countingRecorder{}
	c := Open(ctx, Options{Backend: BackendNone, HotEntries: 10, Recorder: rec})
	defer c.Close()
	assert.False(t, c.Degraded())

	_, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "a", []float32{1}))
	_, _ = c.Get(ctx, "a")

	assert.Equal(t, int64(1), rec.hits.Load())
	assert.Equal(t, int64(1), rec.misses.Load())
}

func TestCache_Redis(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := Open(ctx, Options{Backend: BackendRedis, Redis: client, RedisPrefix: "test:emb:", Clock: clock.Now})
	defer c.Close()
	require.False(t, c.Degraded())
	assert.Equal(t, "redis", c.Backend())

	var calls int
	fn := func(context.Context) ([]float32, error) {
		calls++
		return []float32{0.1, 0.2, 0.3}, nil
	}
	for i := 0; i < 3; i++ {
		vec, err := c.GetOrCompute(ctx, "prefers window seats", fn)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	}
	assert.Equal(t, 1, calls)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clock.Advance(48 * time.Hour)
	require.NoError(t, c.Set(ctx, "newer", []float32{1}))

	removed, err := c.ClearOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := c.Get(ctx, "prefers window seats")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "newer")
	assert.True(t, ok)
}

func TestCache_RedisUnavailableDegrades(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	c := Open(context.Background(), Options{Backend: BackendRedis, RedisAddr: addr})
	defer c.Close()
	assert.True(t, c.Degraded())
}

func TestVectorBlobRoundTrip(t *testing.T) {
	vec := []float32{0, -0.5, 1e-7, 3.4e38}
	got, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
