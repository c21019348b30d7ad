package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/goclaw/memoria/pkg/logger"
)

// Backend kinds accepted by Options.Backend.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Recorder receives cache lookup outcomes.
type Recorder interface {
	RecordCacheLookup(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheLookup(bool) {}

// ComputeFunc produces the vector for a cache miss.
type ComputeFunc func(ctx context.Context) ([]float32, error)

// Options configures Open.
type Options struct {
	// Backend is sqlite, redis or none.
	Backend string

	SQLitePath  string
	BusyTimeout time.Duration

	// Redis is used by the redis backend. When nil a client is created from
	// RedisAddr, RedisPassword and RedisDB.
	Redis         redis.Cmdable
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// HotEntries bounds the in-process tier. Zero disables it.
	HotEntries int64

	Logger   logger.Logger
	Recorder Recorder
	Clock    func() time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Backend  string `json:"backend"`
	Degraded bool   `json:"degraded"`
	Hits     int64  `json:"hits"`
	Misses   int64  `json:"misses"`
	Sets     int64  `json:"sets"`
	Errors   int64  `json:"errors"`
}

// Cache memoizes vectors by the hash of their normalized text. A ristretto
// hot tier sits in front of the persistent Backend. Entries are
// content-addressed, so concurrent writers of the same key are harmless.
type Cache struct {
	backend  Backend
	hot      *ristretto.Cache[string, []float32]
	group    singleflight.Group
	log      logger.Logger
	recorder Recorder
	clock    func() time.Time
	degraded bool
	closers  []func() error

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errors atomic.Int64
}

// Open builds a Cache. It never fails: when the configured backend cannot be
// opened the cache logs a warning and runs as a pass-through, reporting
// Degraded() == true.
func Open(ctx context.Context, opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	c := &Cache{
		log:      opts.Logger.With("component", "embeddings_cache"),
		recorder: opts.Recorder,
		clock:    opts.Clock,
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.clock == nil {
		c.clock = time.Now
	}

	if opts.HotEntries > 0 {
		hot, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
			NumCounters: opts.HotEntries * 10,
			MaxCost:     opts.HotEntries,
			BufferItems: 64,

			IgnoreInternalCost: true,
		})
		if err != nil {
			c.log.Warn("hot tier disabled", "error", err)
		} else {
			c.hot = hot
		}
	}

	backend, err := openBackend(ctx, opts, c)
	if err != nil {
		c.log.Warn("embeddings cache degraded to pass-through",
			"backend", opts.Backend, "error", err)
		c.backend = nopBackend{}
		c.degraded = true
		return c
	}
	c.backend = backend
	return c
}

// NewCache wraps an already opened backend.
func NewCache(backend Backend, hotEntries int64, log logger.Logger) *Cache {
	if backend == nil {
		backend = nopBackend{}
	}
	c := Open(context.Background(), Options{Backend: BackendNone, HotEntries: hotEntries, Logger: log})
	c.backend = backend
	return c
}

func openBackend(ctx context.Context, opts Options, c *Cache) (Backend, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return OpenSQLite(ctx, opts.SQLitePath, opts.BusyTimeout)
	case BackendRedis:
		client := opts.Redis
		if client == nil {
			owned := redis.NewClient(&redis.Options{
				Addr:     opts.RedisAddr,
				Password: opts.RedisPassword,
				DB:       opts.RedisDB,
			})
			c.closers = append(c.closers, owned.Close)
			client = owned
		}
		return NewRedisBackend(ctx, client, opts.RedisPrefix)
	case BackendNone:
		return nopBackend{}, nil
	default:
		return nil, fmt.Errorf("embedding: unknown cache backend %q", opts.Backend)
	}
}

// Degraded reports whether the configured backend failed to open.
func (c *Cache) Degraded() bool {
	return c.degraded
}

// Backend returns the name of the active backend.
func (c *Cache) Backend() string {
	return c.backend.Name()
}

// Get returns the cached vector for text.
func (c *Cache) Get(ctx context.Context, text string) ([]float32, bool) {
	vec, ok := c.lookup(ctx, ContentKey(text))
	c.recorder.RecordCacheLookup(ok)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return vec, ok
}

func (c *Cache) lookup(ctx context.Context, key string) ([]float32, bool) {
	if c.hot != nil {
		if vec, ok := c.hot.Get(key); ok {
			return cloneVector(vec), true
		}
	}
	vec, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.errors.Add(1)
		c.log.Debug("cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	c.setHot(key, vec)
	return vec, true
}

// Set stores vec for text.
func (c *Cache) Set(ctx context.Context, text string, vec []float32) error {
	return c.store(ctx, ContentKey(text), vec)
}

func (c *Cache) store(ctx context.Context, key string, vec []float32) error {
	c.sets.Add(1)
	c.setHot(key, cloneVector(vec))
	if err := c.backend.Set(ctx, key, vec, c.clock()); err != nil {
		c.errors.Add(1)
		return err
	}
	return nil
}

func (c *Cache) setHot(key string, vec []float32) {
	if c.hot == nil {
		return
	}
	c.hot.Set(key, vec, 1)
	c.hot.Wait()
}

// GetOrCompute returns the cached vector for text or calls fn once, stores
// the result and returns it. Concurrent misses on the same text share one
// call. A failed store is logged and the computed vector is still returned.
func (c *Cache) GetOrCompute(ctx context.Context, text string, fn ComputeFunc) ([]float32, error) {
	if vec, ok := c.Get(ctx, text); ok {
		return vec, nil
	}

	key := ContentKey(text)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have filled the key between Get and Do.
		if vec, ok := c.lookup(ctx, key); ok {
			return vec, nil
		}
		vec, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store(ctx, key, vec); err != nil {
			c.log.Warn("cache write failed", "error", err)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneVector(v.([]float32)), nil
}

// Delete drops text from the hot tier so the next read goes to the backend.
func (c *Cache) Delete(text string) {
	if c.hot != nil {
		c.hot.Del(ContentKey(text))
	}
}

// ClearOld purges entries older than maxAge and returns how many backend rows
// were removed. The hot tier is cleared entirely.
func (c *Cache) ClearOld(ctx context.Context, maxAge time.Duration) (int, error) {
	if c.hot != nil {
		c.hot.Clear()
	}
	n, err := c.backend.DeleteOlderThan(ctx, c.clock().Add(-maxAge))
	if err != nil {
		c.errors.Add(1)
		return 0, err
	}
	if n > 0 {
		c.log.Info("purged stale embeddings", "rows", n, "max_age", maxAge)
	}
	return n, nil
}

// ClearOldDays purges entries older than days days.
func (c *Cache) ClearOldDays(ctx context.Context, days int) (int, error) {
	return c.ClearOld(ctx, time.Duration(days)*24*time.Hour)
}

// Len returns the number of persisted rows.
func (c *Cache) Len(ctx context.Context) (int, error) {
	return c.backend.Len(ctx)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Backend:  c.backend.Name(),
		Degraded: c.degraded,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Sets:     c.sets.Load(),
		Errors:   c.errors.Load(),
	}
}

// Close releases the hot tier and the backend.
func (c *Cache) Close() error {
	if c.hot != nil {
		c.hot.Close()
	}
	err := c.backend.Close()
	for _, closeFn := range c.closers {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func cloneVector(vec []float32) []float32 {
	if vec == nil {
		return nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
