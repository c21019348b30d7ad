package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goclaw/memoria/pkg/storage/badger"
	memstore "github.com/goclaw/memoria/pkg/storage/memory"
)

func TestVectorStore_EmptyQuery(t *testing.T) {
	vs := openStore(t, nil, EntityScope{ID: "ana"}, 3, nil)
	got, err := vs.Query([]float32{1, 0}, 5, 0)
	if err != nil {
		t.Fatalf("empty store query failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %v", got)
	}
}

func TestVectorStore_AddAndQuery(t *testing.T) {
	ctx := context.Background()
	vs := openStore(t, nil, EntityScope{ID: "ana"}, 3, nil)

	for _, e := range []*MemoryEntry{
		{ID: "a", Content: "a", Vector: []float32{1, 0, 0}},
		{ID: "b", Content: "b", Vector: []float32{0, 1, 0}},
		{ID: "c", Content: "c", Vector: []float32{0.9, 0.1, 0}},
	} {
		if _, err := vs.Add(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := vs.Query([]float32{1, 0, 0}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Entry.ID != "a" || got[1].Entry.ID != "c" {
		t.Errorf("unexpected order: %s, %s", got[0].Entry.ID, got[1].Entry.ID)
	}
	if math.Abs(got[0].Similarity-1) > 1e-6 {
		t.Errorf("expected similarity ~1, got %f", got[0].Similarity)
	}
	if got[0].Entry.EntityID != "ana" {
		t.Errorf("expected entity ID to be stamped, got %q", got[0].Entry.EntityID)
	}

	filtered, _ := vs.Query([]float32{1, 0, 0}, 0, 0.5)
	if len(filtered) != 2 {
		t.Errorf("expected 2 results above 0.5, got %d", len(filtered))
	}
}

func TestVectorStore_TiesPreferRecent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	vs := openStore(t, nil, GlobalScope{}, 2, clock.Now)

	vs.Add(ctx, &MemoryEntry{ID: "old", Vector: []float32{1, 0}, Timestamp: clock.Now().Add(-time.Hour)})
	vs.Add(ctx, &MemoryEntry{ID: "new", Vector: []float32{2, 0}, Timestamp: clock.Now()})

	got, _ := vs.Query([]float32{1, 0}, 1, 0)
	if len(got) != 1 || got[0].Entry.ID != "new" {
		t.Errorf("expected the newer entry to win the tie, got %+v", got)
	}
}

func TestVectorStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	vs := openStore(t, nil, GlobalScope{}, 3, nil)
	if _, err := vs.Add(ctx, &MemoryEntry{Vector: []float32{1, 0}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on add, got %v", err)
	}
	vs.Add(ctx, &MemoryEntry{Vector: []float32{1, 0, 0}})
	if _, err := vs.Query([]float32{1, 0}, 1, 0); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on query, got %v", err)
	}
}

func TestVectorStore_AddFillsDefaults(t *testing.T) {
	clock := newFakeClock()
	vs := openStore(t, nil, GlobalScope{}, 2, clock.Now)
	id, err := vs.Add(context.Background(), &MemoryEntry{Importance: 0.8, Vector: []float32{1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a generated ID")
	}
	e, ok := vs.Get(id)
	if !ok {
		t.Fatal("entry missing")
	}
	if !e.Timestamp.Equal(clock.Now()) {
		t.Errorf("expected timestamp %v, got %v", clock.Now(), e.Timestamp)
	}
	if e.Horizon != HorizonLong {
		t.Errorf("expected long horizon, got %s", e.Horizon)
	}
}

func TestVectorStore_UpdateTouchDelete(t *testing.T) {
	ctx := context.Background()
	vs := openStore(t, memstore.NewMemoryStorage(), EntityScope{ID: "ana"}, 2, nil)

	if err := vs.Update(ctx, &MemoryEntry{ID: "missing", Vector: []float32{1, 0}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	id, _ := vs.Add(ctx, &MemoryEntry{Content: "original", Vector: []float32{1, 0}})
	if err := vs.Update(ctx, &MemoryEntry{ID: id, Content: "updated", Vector: []float32{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := vs.Touch(ctx, id); err != nil {
		t.Fatal(err)
	}
	e, _ := vs.Get(id)
	if e.Content != "updated" || e.AccessCount != 1 {
		t.Errorf("unexpected entry after update and touch: %+v", e)
	}
	if err := vs.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if vs.Count() != 0 {
		t.Errorf("expected empty store, got %d", vs.Count())
	}
	if err := vs.Delete(ctx, id); err != nil {
		t.Errorf("deleting twice should not fail: %v", err)
	}
}

func TestVectorStore_DeleteDuringTouchStaysDeleted(t *testing.T) {
	ctx := context.Background()
	db := newGatedStore()
	scope := EntityScope{ID: "ana"}
	vs := openStore(t, db, scope, 2, nil)
	if _, err := vs.Add(ctx, &MemoryEntry{ID: "x1", Content: "x", Vector: []float32{1, 0}}); err != nil {
		t.Fatal(err)
	}

	db.arm()
	touched := make(chan error, 1)
	go func() { touched <- vs.Touch(ctx, "x1") }()
	<-db.entered

	deleted := make(chan error, 1)
	go func() { deleted <- vs.Delete(ctx, "x1") }()
	select {
	case <-deleted:
		t.Fatal("delete finished while touch was still persisting")
	case <-time.After(20 * time.Millisecond):
	}
	db.release()

	if err := <-touched; err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := <-deleted; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := vs.Get("x1"); ok {
		t.Error("entry still indexed after delete")
	}
	reopened := openStore(t, db, scope, 2, nil)
	if _, ok := reopened.Get("x1"); ok {
		t.Error("deleted entry reloaded from the backing store")
	}
}

func TestVectorStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	db, err := badger.NewBadgerStorage(&badger.Config{Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ana := openStore(t, db, EntityScope{ID: "ana"}, 2, nil)
	ana.Add(ctx, &MemoryEntry{ID: "x", Content: "Ana lives in São Paulo", Category: CategoryUserInfo, Vector: []float32{1, 0}})
	bob := openStore(t, db, EntityScope{ID: "bob"}, 2, nil)
	bob.Add(ctx, &MemoryEntry{ID: "y", Content: "Bob plays chess", Vector: []float32{0, 1}})
	if err := ana.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	reopened := openStore(t, db, EntityScope{ID: "ana"}, 2, nil)
	if reopened.Count() != 1 {
		t.Fatalf("expected 1 entry for ana, got %d", reopened.Count())
	}
	e, ok := reopened.Get("x")
	if !ok || e.Content != "Ana lives in São Paulo" || e.Category != CategoryUserInfo {
		t.Errorf("unexpected reloaded entry: %+v", e)
	}

	// A store with a different dimension skips foreign vectors.
	wide := openStore(t, db, EntityScope{ID: "ana"}, 4, nil)
	if wide.Count() != 0 {
		t.Errorf("expected foreign-dimension entries skipped, got %d", wide.Count())
	}
}

func TestVectorStore_WriteErrorKeepsIndexClean(t *testing.T) {
	ctx := context.Background()
	db := newFlakyStore()
	vs := openStore(t, db, GlobalScope{}, 2, nil)
	db.setFailing(true)

	_, err := vs.Add(ctx, &MemoryEntry{ID: "z", Vector: []float32{1, 0}})
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	if werr.Op != "add" || werr.ID != "z" || !errors.Is(err, errInjected) {
		t.Errorf("unexpected WriteError: %+v", werr)
	}
	if vs.Count() != 0 {
		t.Error("failed write became visible")
	}
}

func TestVectorStore_QueryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	vs := openStore(t, nil, GlobalScope{}, 2, nil)
	vs.Add(ctx, &MemoryEntry{ID: "a", Content: "original", Vector: []float32{1, 0}})

	got, _ := vs.Query([]float32{1, 0}, 1, 0)
	got[0].Entry.Content = "mutated"
	got[0].Entry.Vector[0] = 0

	e, _ := vs.Get("a")
	if e.Content != "original" || e.Vector[0] != 1 {
		t.Errorf("store entry mutated through query result: %+v", e)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{0, 0}, []float32{1, 0}, 0},
		{[]float32{1, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tt := range tests {
		if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("cosineSimilarity(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}
