// Package memory provides an in-memory implementation of the storage interface.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goclaw/memoria/pkg/storage"
)

// MemoryStorage implements storage.Store with a map.
type MemoryStorage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

// Put stores a copy of value.
func (m *MemoryStorage) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &storage.StorageUnavailableError{Cause: errClosed}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Get returns a copy of the value under key.
func (m *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, &storage.NotFoundError{Key: key}
	}
	return append([]byte(nil), v...), nil
}

// Delete removes key.
func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &storage.StorageUnavailableError{Cause: errClosed}
	}
	delete(m.data, key)
	return nil
}

// Scan visits keys with prefix in ascending order over a snapshot.
func (m *MemoryStorage) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		snapshot[k] = m.data[k]
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

// Sync is a no-op.
func (m *MemoryStorage) Sync() error { return nil }

// Close marks the store closed; later writes fail.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Len returns the number of keys.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

type closedError struct{}

func (closedError) Error() string { return "store closed" }

var errClosed error = closedError{}
