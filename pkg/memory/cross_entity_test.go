package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	memstore "github.com/goclaw/memoria/pkg/storage/memory"
)

func newCrossEntity(t *testing.T, db *memstore.MemoryStorage, clock *fakeClock) *CrossEntityMemory {
	t.Helper()
	enc := newHashEncoder(t)
	global := openStore(t, db, GlobalScope{}, enc.Dimension(), clock.Now)
	c, err := NewCrossEntityMemory(context.Background(), global, db, CrossEntityOptions{Encoder: enc, Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCrossEntity_IsShareable(t *testing.T) {
	c := newCrossEntity(t, memstore.NewMemoryStorage(), newFakeClock())
	tests := []struct {
		category Category
		source   Source
		want     bool
	}{
		{CategoryUserInfo, SourceUserProfile, true},
		{CategoryPreference, SourcePreference, true},
		{CategoryFact, SourceFaceRecognition, true},
		{CategoryUserInfo, SourceConversation, false},
		{CategoryFact, "", false},
		{CategoryEmotion, SourceUserProfile, false},
		{CategoryTask, SourceFact, false},
		{CategoryPreference, "banana", false},
	}
	for _, tt := range tests {
		e := &MemoryEntry{Category: tt.category, Source: tt.source}
		if got := c.IsShareable(e); got != tt.want {
			t.Errorf("IsShareable(%s, %q) = %v, want %v", tt.category, tt.source, got, tt.want)
		}
	}
}

func TestCrossEntity_ShareMemory(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newCrossEntity(t, memstore.NewMemoryStorage(), clock)

	entry := &MemoryEntry{ID: "orig", Content: "the user is vegetarian", Category: CategoryFact, Source: SourceFact, AccessCount: 4}
	id, err := c.ShareMemory(ctx, entry, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if id == "orig" {
		t.Error("shared copy should get its own ID")
	}

	again, err := c.ShareMemory(ctx, &MemoryEntry{Content: "The user is vegetarian ", Category: CategoryFact, Source: SourceFact}, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("expected same-content share to return %s, got %s", id, again)
	}

	got := c.GetSharedMemories(CategoryFact)
	if len(got) != 1 {
		t.Fatalf("expected 1 shared fact, got %d", len(got))
	}
	if got[0].Origin != "ana" || got[0].Entry.Metadata[MetaSharedFrom] != "orig" {
		t.Errorf("unexpected shared memory: %+v", got[0].Entry)
	}
	if got[0].Entry.AccessCount != 0 || len(got[0].Entry.Vector) == 0 {
		t.Errorf("expected fresh counters and a vector, got %+v", got[0].Entry)
	}
}

func TestCrossEntity_RejectsUnshareable(t *testing.T) {
	ctx := context.Background()
	c := newCrossEntity(t, memstore.NewMemoryStorage(), newFakeClock())

	_, err := c.ShareMemory(ctx, &MemoryEntry{Content: "we chatted about music", Category: CategoryFact, Source: SourceConversation}, "ana")
	if !errors.Is(err, ErrNotShareable) {
		t.Errorf("expected ErrNotShareable, got %v", err)
	}
	_, err = c.ShareMemory(ctx, &MemoryEntry{Content: "x", Category: CategoryFact, Source: SourceFact}, "bad id!")
	if !errors.Is(err, ErrInvalidEntityID) {
		t.Errorf("expected ErrInvalidEntityID, got %v", err)
	}
	if c.Size() != 0 {
		t.Errorf("expected empty pool, got %d", c.Size())
	}
}

func TestCrossEntity_SharedNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newCrossEntity(t, memstore.NewMemoryStorage(), clock)

	c.ShareMemory(ctx, &MemoryEntry{Content: "likes jazz", Category: CategoryPreference, Source: SourcePreference, Timestamp: clock.Now()}, "ana")
	clock.Advance(time.Hour)
	c.ShareMemory(ctx, &MemoryEntry{Content: "likes bossa nova", Category: CategoryPreference, Source: SourcePreference, Timestamp: clock.Now()}, "bob")

	got := c.GetSharedMemories(CategoryPreference)
	if len(got) != 2 || got[0].Entry.Content != "likes bossa nova" {
		t.Errorf("expected newest first, got %+v", got)
	}
	if len(c.GetSharedMemories(CategoryEmotion)) != 0 {
		t.Error("expected no emotion memories")
	}
}

func TestCrossEntity_LedgerPersists(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	db := memstore.NewMemoryStorage()
	c := newCrossEntity(t, db, clock)

	first, err := c.RecordEntitySwitch(ctx, "", "ana", "startup")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.RecordEntitySwitch(ctx, "ana", "bob", "user request")
	if err != nil {
		t.Fatal(err)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("unexpected sequence numbers %d, %d", first.Seq, second.Seq)
	}
	if _, err := c.RecordEntitySwitch(ctx, "bob", "", "nowhere"); !errors.Is(err, ErrInvalidEntityID) {
		t.Errorf("expected ErrInvalidEntityID, got %v", err)
	}

	reloaded := newCrossEntity(t, db, clock)
	history := reloaded.GetEntityHistory()
	if len(history) != 2 {
		t.Fatalf("expected 2 ledger records, got %d", len(history))
	}
	if history[1].From != "ana" || history[1].To != "bob" || history[1].Reason != "user request" {
		t.Errorf("unexpected record: %+v", history[1])
	}
	next, _ := reloaded.RecordEntitySwitch(ctx, "bob", "ana", "back")
	if next.Seq != 3 {
		t.Errorf("expected sequence to continue at 3, got %d", next.Seq)
	}
}

func TestCrossEntity_ReloadIndexesSharedPool(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	db := memstore.NewMemoryStorage()
	c := newCrossEntity(t, db, clock)
	c.ShareMemory(ctx, &MemoryEntry{Content: "the user's name is Rui", Category: CategoryUserInfo, Source: SourceUserProfile}, "ana")

	reloaded := newCrossEntity(t, db, clock)
	if got := reloaded.GetSharedMemories(CategoryUserInfo); len(got) != 1 || got[0].Origin != "ana" {
		t.Errorf("shared pool not restored: %+v", got)
	}
}

func TestCrossEntity_LedgerWriteFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	db := newFlakyStore()
	enc := newHashEncoder(t)
	global := openStore(t, db, GlobalScope{}, enc.Dimension(), clock.Now)
	c, err := NewCrossEntityMemory(ctx, global, db, CrossEntityOptions{Encoder: enc, Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}

	db.setFailing(true)
	_, err = c.RecordEntitySwitch(ctx, "ana", "bob", "")
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	if len(c.GetEntityHistory()) != 0 {
		t.Error("unpersisted switch was appended")
	}
}
