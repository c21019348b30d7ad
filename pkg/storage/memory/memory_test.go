package memory

import (
	"context"
	"testing"

	"github.com/goclaw/memoria/pkg/storage"
)

// TestMemoryStorageSuite runs the full storage test suite against MemoryStorage.
func TestMemoryStorageSuite(t *testing.T) {
	suite := &storage.StoreTestSuite{
		NewStore: func(t *testing.T) storage.Store {
			return NewMemoryStorage()
		},
	}

	suite.RunAllTests(t)
}

func TestMemoryStorage_CopiesValues(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	value := []byte("abc")
	if err := s.Put(ctx, "k", value); err != nil {
		t.Fatal(err)
	}
	value[0] = 'x'

	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value was aliased: %q", got)
	}
	got[1] = 'y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value was aliased: %q", again)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 key, got %d", s.Len())
	}
}

func TestMemoryStorage_Closed(t *testing.T) {
	s := NewMemoryStorage()
	_ = s.Close()

	err := s.Put(context.Background(), "k", []byte("v"))
	if _, ok := err.(*storage.StorageUnavailableError); !ok {
		t.Errorf("expected StorageUnavailableError after close, got %v", err)
	}
}
