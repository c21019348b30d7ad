package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goclaw/memoria/pkg/embedding"
	"github.com/goclaw/memoria/pkg/logger"
	"github.com/goclaw/memoria/pkg/storage"
)

const ledgerPrefix = "ledger:"

// DefaultShareableCategories may cross persona boundaries.
func DefaultShareableCategories() []Category {
	return []Category{CategoryUserInfo, CategoryPreference, CategoryFact}
}

// CrossEntityOptions configures a CrossEntityMemory.
type CrossEntityOptions struct {
	// Categories is the shareable allow-list. Nil uses the defaults.
	Categories []Category

	// Encoder fills in vectors for entries shared without one.
	Encoder embedding.Encoder

	Timeout time.Duration
	Logger  logger.Logger
	Now     func() time.Time
}

// CrossEntityMemory is the pool of memories visible to every persona plus
// the append-only ledger of persona switches. Only allow-listed
// categories from non-conversation sources can enter the pool.
type CrossEntityMemory struct {
	store   *VectorStore
	db      storage.Store
	allowed map[Category]struct{}
	encoder embedding.Encoder
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time

	mu         sync.RWMutex
	byCategory map[Category][]string
	byContent  map[string]string
	history    []EntitySwitchRecord
}

// NewCrossEntityMemory indexes the shared entries already in global and
// loads the switch ledger from db.
func NewCrossEntityMemory(ctx context.Context, global *VectorStore, db storage.Store, opts CrossEntityOptions) (*CrossEntityMemory, error) {
	if opts.Categories == nil {
		opts.Categories = DefaultShareableCategories()
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

	c := &CrossEntityMemory{
		store:      global,
		db:         db,
		allowed:    make(map[Category]struct{}, len(opts.Categories)),
		encoder:    opts.Encoder,
		timeout:    opts.Timeout,
		log:        opts.Logger,
		now:        opts.Now,
		byCategory: make(map[Category][]string),
		byContent:  make(map[string]string),
	}
	for _, cat := range opts.Categories {
		c.allowed[cat] = struct{}{}
	}

	for _, entry := range global.All() {
		if _, shared := entry.Metadata[MetaOriginEntity]; shared && c.IsShareable(entry) {
			c.indexLocked(entry)
		}
	}

	if db != nil {
		err := db.Scan(ctx, ledgerPrefix, func(key string, value []byte) error {
			var rec EntitySwitchRecord
			if err := storage.Unmarshal(value, &rec); err != nil {
				return fmt.Errorf("memory: decode %s: %w", key, err)
			}
			c.history = append(c.history, rec)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("memory: load entity ledger: %w", err)
		}
	}
	return c, nil
}

// IsShareable reports whether entry may enter the shared pool.
func (c *CrossEntityMemory) IsShareable(entry *MemoryEntry) bool {
	if _, ok := c.allowed[entry.Category]; !ok {
		return false
	}
	return entry.Source.Global()
}

// ShareMemory copies entry into the shared pool and returns the shared ID.
// Content already shared under the same category returns the existing ID.
func (c *CrossEntityMemory) ShareMemory(ctx context.Context, entry *MemoryEntry, originEntity string) (string, error) {
	if err := ValidateEntityID(originEntity); err != nil {
		return "", err
	}
	if !c.IsShareable(entry) {
		return "", fmt.Errorf("%w: category %s from %s", ErrNotShareable, entry.Category, entry.Source)
	}

	shared := cloneEntry(entry)
	if len(shared.Vector) == 0 {
		if c.encoder == nil {
			return "", fmt.Errorf("%w: shared entry has no vector", ErrDimensionMismatch)
		}
		if _, err := shared.EnsureVector(ctx, c.encoder); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := contentIndexKey(shared.Category, shared.Content)
	if id, ok := c.byContent[key]; ok {
		if _, exists := c.store.Get(id); exists {
			return id, nil
		}
	}

	if shared.Metadata == nil {
		shared.Metadata = make(map[string]string, 2)
	}
	shared.Metadata[MetaOriginEntity] = originEntity
	if entry.ID != "" {
		shared.Metadata[MetaSharedFrom] = entry.ID
	}
	shared.ID = uuid.New().String()
	shared.AccessCount = 0

	id, err := c.store.Add(ctx, shared)
	if err != nil {
		return "", err
	}
	shared.ID = id
	c.indexLocked(shared)
	c.log.Debug("memory shared", "id", id, "origin", originEntity, "category", shared.Category)
	return id, nil
}

// GetSharedMemories returns the pool entries of category, newest first.
func (c *CrossEntityMemory) GetSharedMemories(category Category) []SharedMemory {
	c.mu.RLock()
	ids := append([]string(nil), c.byCategory[category]...)
	c.mu.RUnlock()

	out := make([]SharedMemory, 0, len(ids))
	for _, id := range ids {
		entry, ok := c.store.Get(id)
		if !ok {
			continue
		}
		out = append(out, SharedMemory{
			Entry:    entry,
			Origin:   entry.Metadata[MetaOriginEntity],
			Category: entry.Category,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Entry.Timestamp.After(out[j].Entry.Timestamp)
	})
	return out
}

// Size returns the number of shared entries still present.
func (c *CrossEntityMemory) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, ids := range c.byCategory {
		for _, id := range ids {
			if _, ok := c.store.Get(id); ok {
				n++
			}
		}
	}
	return n
}

// Search queries the shared pool.
func (c *CrossEntityMemory) Search(ctx context.Context, vector []float32, topK int, minSimilarity float64) ([]ScoredEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.store.Query(vector, topK, minSimilarity)
}

// Store returns the global VectorStore backing the pool.
func (c *CrossEntityMemory) Store() *VectorStore {
	return c.store
}

// RecordEntitySwitch appends a switch to the ledger. The record is only
// appended once it is persisted.
func (c *CrossEntityMemory) RecordEntitySwitch(ctx context.Context, from, to, reason string) (EntitySwitchRecord, error) {
	if err := ValidateEntityID(to); err != nil {
		return EntitySwitchRecord{}, err
	}
	if from != "" {
		if err := ValidateEntityID(from); err != nil {
			return EntitySwitchRecord{}, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var seq uint64 = 1
	if n := len(c.history); n > 0 {
		seq = c.history[n-1].Seq + 1
	}
	rec := EntitySwitchRecord{
		Seq:       seq,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: c.now(),
	}

	if c.db != nil {
		data, err := storage.Marshal(rec)
		if err != nil {
			return EntitySwitchRecord{}, err
		}
		wctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := c.db.Put(wctx, ledgerKey(seq), data); err != nil {
			return EntitySwitchRecord{}, &WriteError{Op: "ledger", Scope: "ledger", ID: strconv.FormatUint(seq, 10), Err: err}
		}
	}
	c.history = append(c.history, rec)
	return rec, nil
}

// GetEntityHistory returns the ledger in chronological order.
func (c *CrossEntityMemory) GetEntityHistory() []EntitySwitchRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]EntitySwitchRecord(nil), c.history...)
}

func (c *CrossEntityMemory) indexLocked(entry *MemoryEntry) {
	c.byCategory[entry.Category] = append(c.byCategory[entry.Category], entry.ID)
	c.byContent[contentIndexKey(entry.Category, entry.Content)] = entry.ID
}

func contentIndexKey(c Category, content string) string {
	return string(c) + ":" + embedding.ContentKey(content)
}

func ledgerKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", ledgerPrefix, seq)
}
