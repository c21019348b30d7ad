package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goclaw/memoria/pkg/embedding"
	"github.com/goclaw/memoria/pkg/storage"
	memstore "github.com/goclaw/memoria/pkg/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

// mapEncoder returns fixed vectors per text and a default for anything else.
type mapEncoder struct {
	dim     int
	vectors map[string][]float32
	def     []float32
}

func (e *mapEncoder) Dimension() int { return e.dim }

func (e *mapEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	if e.def != nil {
		return e.def, nil
	}
	return nil, errors.New("no vector for " + text)
}

var errInjected = errors.New("injected failure")

// flakyStore fails every Put while failing is set.
type flakyStore struct {
	storage.Store
	mu      sync.Mutex
	failing bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memstore.NewMemoryStorage()}
}

func (s *flakyStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errInjected
	}
	return s.Store.Put(ctx, key, value)
}

func newHashEncoder(t *testing.T) embedding.Encoder {
	t.Helper()
	enc, err := embedding.NewHashEncoder(256)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func openStore(t *testing.T, db storage.Store, scope MemoryScope, dim int, now func() time.Time) *VectorStore {
	t.Helper()
	vs, err := OpenVectorStore(context.Background(), db, scope, dim, VectorStoreOptions{Now: now})
	if err != nil {
		t.Fatalf("OpenVectorStore: %v", err)
	}
	return vs
}

// testTuning keeps immediate promotion out of the way unless a test asks
// for it.
func testTuning() Tuning {
	t := DefaultTuning()
	t.ImmediateThreshold = 1.01
	return t
}

// gatedStore parks the next Put after arm until release is called.
type gatedStore struct {
	storage.Store
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	gate    chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{Store: memstore.NewMemoryStorage()}
}

func (s *gatedStore) arm() {
	s.mu.Lock()
	s.armed = true
	s.entered = make(chan struct{})
	s.gate = make(chan struct{})
	s.mu.Unlock()
}

func (s *gatedStore) release() { close(s.gate) }

func (s *gatedStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	armed := s.armed
	s.armed = false
	entered, gate := s.entered, s.gate
	s.mu.Unlock()
	if armed {
		close(entered)
		<-gate
	}
	return s.Store.Put(ctx, key, value)
}
