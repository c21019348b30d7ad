package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goclaw/memoria/pkg/logger"
	"github.com/goclaw/memoria/pkg/storage"
)

// DefaultStorageTimeout bounds a single persistent write.
const DefaultStorageTimeout = 3 * time.Second

// VectorStoreOptions configures a VectorStore.
type VectorStoreOptions struct {
	// Timeout bounds each persistent write.
	Timeout time.Duration
	Logger  logger.Logger
	Now     func() time.Time
}

// VectorStore holds the long-term entries of one scope and answers
// nearest-neighbor queries by brute-force cosine similarity. Writes go to
// the backing store before they become visible in the index.
type VectorStore struct {
	// writeMu orders writers so the backing store and the index never
	// disagree about which entries exist.
	writeMu   sync.Mutex
	mu        sync.RWMutex
	scope     MemoryScope
	dimension int
	entries   map[string]*MemoryEntry
	db        storage.Store
	timeout   time.Duration
	log       logger.Logger
	now       func() time.Time
}

// OpenVectorStore loads every persisted entry of scope from db. A nil db
// gives a store that lives only in memory. Entries whose vector length does
// not match dim are skipped.
func OpenVectorStore(ctx context.Context, db storage.Store, scope MemoryScope, dim int, opts VectorStoreOptions) (*VectorStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("memory: invalid vector dimension %d", dim)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultStorageTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	v := &VectorStore{
		scope:     scope,
		dimension: dim,
		entries:   make(map[string]*MemoryEntry),
		db:        db,
		timeout:   opts.Timeout,
		log:       opts.Logger.With("scope", scope.String()),
		now:       opts.Now,
	}
	if db == nil {
		return v, nil
	}

	skipped := 0
	err := db.Scan(ctx, scopePrefix(scope), func(key string, value []byte) error {
		var entry MemoryEntry
		if err := storage.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("memory: decode %s: %w", key, err)
		}
		if len(entry.Vector) != dim {
			skipped++
			return nil
		}
		v.entries[entry.ID] = &entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: load %s: %w", scope, err)
	}
	if skipped > 0 {
		v.log.Warn("skipped entries with foreign vector dimension", "count", skipped, "dimension", dim)
	}
	v.log.Debug("vector store opened", "entries", len(v.entries))
	return v, nil
}

// Add stores an entry and returns its ID. An empty ID is generated and a
// zero timestamp is set to now. Adding an existing ID replaces it.
func (v *VectorStore) Add(ctx context.Context, entry *MemoryEntry) (string, error) {
	if len(entry.Vector) != v.dimension {
		return "", fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dimension, len(entry.Vector))
	}
	stored := cloneEntry(entry)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = v.now()
	}
	if stored.Horizon == "" {
		stored.Horizon = HorizonFor(stored.Importance)
	}
	stored.EntityID = v.scope.EntityID()

	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	if err := v.persist(ctx, "add", stored); err != nil {
		return "", err
	}

	v.mu.Lock()
	v.entries[stored.ID] = stored
	v.mu.Unlock()
	return stored.ID, nil
}

// Update replaces an existing entry.
func (v *VectorStore) Update(ctx context.Context, entry *MemoryEntry) error {
	if len(entry.Vector) != v.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dimension, len(entry.Vector))
	}
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	v.mu.RLock()
	_, ok := v.entries[entry.ID]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, entry.ID)
	}

	stored := cloneEntry(entry)
	stored.EntityID = v.scope.EntityID()
	if err := v.persist(ctx, "update", stored); err != nil {
		return err
	}

	v.mu.Lock()
	v.entries[stored.ID] = stored
	v.mu.Unlock()
	return nil
}

// Delete removes an entry. Deleting an unknown ID is not an error.
func (v *VectorStore) Delete(ctx context.Context, id string) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	if v.db != nil {
		wctx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()
		if err := v.db.Delete(wctx, entryKey(v.scope, id)); err != nil {
			return &WriteError{Op: "delete", Scope: v.scope.String(), ID: id, Err: err}
		}
	}
	v.mu.Lock()
	delete(v.entries, id)
	v.mu.Unlock()
	return nil
}

// Touch increments the access count of an entry. The in-memory count is
// updated even if persisting it fails.
func (v *VectorStore) Touch(ctx context.Context, id string) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	v.mu.Lock()
	entry, ok := v.entries[id]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated := cloneEntry(entry)
	updated.AccessCount++
	v.entries[id] = updated
	v.mu.Unlock()

	return v.persist(ctx, "touch", updated)
}

// Query returns up to topK entries with similarity >= minSimilarity,
// highest first and newest first among ties. A non-positive topK returns
// every match. An empty store returns an empty result.
func (v *VectorStore) Query(vector []float32, topK int, minSimilarity float64) ([]ScoredEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.entries) == 0 {
		return []ScoredEntry{}, nil
	}
	if len(vector) != v.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dimension, len(vector))
	}

	results := make([]ScoredEntry, 0, len(v.entries))
	for _, entry := range v.entries {
		sim := cosineSimilarity(vector, entry.Vector)
		if sim < minSimilarity {
			continue
		}
		results = append(results, ScoredEntry{Entry: entry, Similarity: sim, Score: sim})
	}
	sortScored(results)

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	for i := range results {
		results[i].Entry = cloneEntry(results[i].Entry)
	}
	return results, nil
}

// Get returns a copy of an entry.
func (v *VectorStore) Get(id string) (*MemoryEntry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.entries[id]
	if !ok {
		return nil, false
	}
	return cloneEntry(entry), true
}

// All returns copies of every entry, oldest first.
func (v *VectorStore) All() []*MemoryEntry {
	v.mu.RLock()
	out := make([]*MemoryEntry, 0, len(v.entries))
	for _, entry := range v.entries {
		out = append(out, cloneEntry(entry))
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of entries.
func (v *VectorStore) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Flush syncs the backing store to disk.
func (v *VectorStore) Flush(ctx context.Context) error {
	if v.db == nil {
		return nil
	}
	if err := v.db.Sync(); err != nil {
		return &WriteError{Op: "flush", Scope: v.scope.String(), Err: err}
	}
	return nil
}

// Scope returns the scope the store serves.
func (v *VectorStore) Scope() MemoryScope {
	return v.scope
}

// Dimension returns the vector length the store accepts.
func (v *VectorStore) Dimension() int {
	return v.dimension
}

func (v *VectorStore) persist(ctx context.Context, op string, entry *MemoryEntry) error {
	if v.db == nil {
		return nil
	}
	data, err := storage.Marshal(entry)
	if err != nil {
		return &WriteError{Op: op, Scope: v.scope.String(), ID: entry.ID, Err: err}
	}
	wctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	if err := v.db.Put(wctx, entryKey(v.scope, entry.ID), data); err != nil {
		return &WriteError{Op: op, Scope: v.scope.String(), ID: entry.ID, Err: err}
	}
	return nil
}

// sortScored orders by score, then recency, then ID.
func sortScored(results []ScoredEntry) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Entry.Timestamp.Equal(b.Entry.Timestamp) {
			return a.Entry.Timestamp.After(b.Entry.Timestamp)
		}
		return a.Entry.ID < b.Entry.ID
	})
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a []float32, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dotProduct / denom
}
