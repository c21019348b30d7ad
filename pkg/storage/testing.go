package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// StoreTestSuite defines a test suite that can be run against any Store implementation.
type StoreTestSuite struct {
	NewStore func(t *testing.T) Store
}

// RunAllTests runs all store tests against the provided implementation.
func (s *StoreTestSuite) RunAllTests(t *testing.T) {
	t.Run("PutGetDelete", s.TestPutGetDelete)
	t.Run("ScanPrefix", s.TestScanPrefix)
	t.Run("ScanStopsOnError", s.TestScanStopsOnError)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
	t.Run("Serialization", s.TestSerialization)
}

// TestPutGetDelete tests basic key operations.
func (s *StoreTestSuite) TestPutGetDelete(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Get(ctx, "vec:entity:luna:1"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	if err := store.Put(ctx, "vec:entity:luna:1", []byte("one")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := store.Get(ctx, "vec:entity:luna:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "one" {
		t.Errorf("expected 'one', got %q", got)
	}

	if err := store.Put(ctx, "vec:entity:luna:1", []byte("uno")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = store.Get(ctx, "vec:entity:luna:1")
	if string(got) != "uno" {
		t.Errorf("expected overwrite 'uno', got %q", got)
	}

	if err := store.Delete(ctx, "vec:entity:luna:1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "vec:entity:luna:1"); !IsNotFound(err) {
		t.Errorf("expected NotFoundError after delete, got %v", err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Errorf("deleting a missing key should succeed, got %v", err)
	}
	if err := store.Sync(); err != nil {
		t.Errorf("Sync failed: %v", err)
	}
}

// TestScanPrefix tests ordered prefix iteration.
func (s *StoreTestSuite) TestScanPrefix(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	for _, key := range []string{"vec:entity:sol:a", "vec:entity:luna:b", "vec:entity:luna:a", "ledger:1"} {
		if err := store.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("Put(%s) failed: %v", key, err)
		}
	}

	var keys []string
	err := store.Scan(ctx, "vec:entity:luna:", func(key string, value []byte) error {
		if key != string(value) {
			t.Errorf("value mismatch for %s", key)
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "vec:entity:luna:a" || keys[1] != "vec:entity:luna:b" {
		t.Errorf("unexpected scan result %v", keys)
	}
}

// TestScanStopsOnError tests that a callback error aborts the scan.
func (s *StoreTestSuite) TestScanStopsOnError(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = store.Put(ctx, fmt.Sprintf("k:%d", i), []byte("v"))
	}
	stop := errors.New("stop")
	visited := 0
	err := store.Scan(ctx, "k:", func(string, []byte) error {
		visited++
		if visited == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Errorf("expected stop error, got %v", err)
	}
	if visited != 2 {
		t.Errorf("expected 2 visits, got %d", visited)
	}
}

// TestConcurrentAccess tests concurrent writers and scanners.
func (s *StoreTestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Put(ctx, fmt.Sprintf("c:%02d", i), []byte("v")); err != nil {
				t.Errorf("Put failed: %v", err)
			}
			_ = store.Scan(ctx, "c:", func(string, []byte) error { return nil })
		}(i)
	}
	wg.Wait()

	count := 0
	_ = store.Scan(ctx, "c:", func(string, []byte) error {
		count++
		return nil
	})
	if count != 10 {
		t.Errorf("expected 10 keys, got %d", count)
	}
}

// TestSerialization tests the JSON helpers against the store.
func (s *StoreTestSuite) TestSerialization(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	type record struct {
		ID     string    `json:"id"`
		Vector []float32 `json:"vector"`
	}
	data, err := Marshal(record{ID: "r1", Vector: []float32{0.5, -1}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := store.Put(ctx, "rec:r1", data); err != nil {
		t.Fatal(err)
	}
	raw, err := store.Get(ctx, "rec:r1")
	if err != nil {
		t.Fatal(err)
	}
	var got record
	if err := Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.ID != "r1" || len(got.Vector) != 2 || got.Vector[1] != -1 {
		t.Errorf("unexpected record %+v", got)
	}

	var serr *SerializationError
	if err := Unmarshal([]byte("{"), &got); !errors.As(err, &serr) {
		t.Errorf("expected SerializationError, got %v", err)
	}
}
