package memory

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goclaw/memoria/pkg/embedding"
)

// ShortTermOptions configures a ShortTermMemory.
type ShortTermOptions struct {
	MaxSize          int
	TTL              time.Duration
	MinContentLength int

	// ImportanceThreshold and AccessThreshold decide promotability: an
	// entry is promotable when either is reached.
	ImportanceThreshold float64
	AccessThreshold     int

	// OnEvict is called outside the lock for each capacity eviction.
	OnEvict func(ShortTermEntry)

	Now func() time.Time
}

// ShortTermStats counts buffer activity.
type ShortTermStats struct {
	Size       int   `json:"size"`
	MaxSize    int   `json:"max_size"`
	Added      int64 `json:"added"`
	Duplicates int64 `json:"duplicates"`
	Rejected   int64 `json:"rejected"`
	Evicted    int64 `json:"evicted"`
	Expired    int64 `json:"expired"`
	Promoted   int64 `json:"promoted"`
}

// ShortTermMemory is a bounded, TTL'd buffer of recent inputs. The list
// keeps insertion order, newest at the front; capacity eviction drops the
// back. All methods are safe for concurrent use.
type ShortTermMemory struct {
	mu        sync.Mutex
	opts      ShortTermOptions
	items     map[string]*list.Element
	order     *list.List
	byContent map[string]string
	stats     ShortTermStats
}

type stItem struct {
	entry  *ShortTermEntry
	key    string
	tokens map[string]struct{}
}

// NewShortTermMemory creates a buffer. Non-positive sizes use defaults.
func NewShortTermMemory(opts ShortTermOptions) *ShortTermMemory {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 50
	}
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = DefaultMinContentLength
	}
	if opts.ImportanceThreshold <= 0 {
		opts.ImportanceThreshold = 0.7
	}
	if opts.AccessThreshold <= 0 {
		opts.AccessThreshold = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ShortTermMemory{
		opts:      opts,
		items:     make(map[string]*list.Element),
		order:     list.New(),
		byContent: make(map[string]string),
	}
}

// Add buffers content. Invalid content is rejected with an empty ID. Content
// already buffered bumps the existing entry and returns its ID.
func (s *ShortTermMemory) Add(content string, importance float64, category Category, metadata map[string]string) WriteResult {
	if rej := ValidateContent(content, s.opts.MinContentLength); rej != RejectNone {
		s.mu.Lock()
		s.stats.Rejected++
		s.mu.Unlock()
		return WriteResult{Rejection: rej}
	}
	importance = clampImportance(importance)
	key := embedding.ContentKey(content)

	var evicted []ShortTermEntry
	s.mu.Lock()
	s.purgeExpiredLocked()

	if id, ok := s.byContent[key]; ok {
		item := s.items[id].Value.(*stItem)
		item.entry.AccessCount++
		if importance > item.entry.Importance {
			item.entry.Importance = importance
		}
		for k, v := range metadata {
			if item.entry.Metadata == nil {
				item.entry.Metadata = make(map[string]string, len(metadata))
			}
			item.entry.Metadata[k] = v
		}
		s.stats.Duplicates++
		s.mu.Unlock()
		return WriteResult{ID: id, Duplicate: true}
	}

	for s.order.Len() >= s.opts.MaxSize {
		evicted = append(evicted, s.removeLocked(s.order.Back()))
		s.stats.Evicted++
	}

	entry := &ShortTermEntry{
		ID:         uuid.New().String(),
		Content:    content,
		Timestamp:  s.opts.Now(),
		Importance: importance,
		Category:   category,
		Metadata:   cloneMetadata(metadata),
	}
	s.items[entry.ID] = s.order.PushFront(&stItem{
		entry:  entry,
		key:    key,
		tokens: tokenSet(content),
	})
	s.byContent[key] = entry.ID
	s.stats.Added++
	s.mu.Unlock()

	if s.opts.OnEvict != nil {
		for _, e := range evicted {
			s.opts.OnEvict(e)
		}
	}
	return WriteResult{ID: entry.ID}
}

// Get returns buffered entries sharing keywords with query, best match
// first and newest first among equals. Returned entries have their access
// count incremented.
func (s *ShortTermMemory) Get(query string, limit int) []ShortTermEntry {
	qtokens := tokenSet(query)
	if len(qtokens) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked()

	type match struct {
		entry *ShortTermEntry
		hits  int
	}
	var matches []match
	for e := s.order.Front(); e != nil; e = e.Next() {
		item := e.Value.(*stItem)
		hits := 0
		for tok := range qtokens {
			if _, ok := item.tokens[tok]; ok {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, match{entry: item.entry, hits: hits})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].hits > matches[j].hits
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]ShortTermEntry, len(matches))
	for i, m := range matches {
		m.entry.AccessCount++
		out[i] = cloneShortTerm(m.entry)
	}
	return out
}

// GetRecent returns up to limit entries, newest first. A non-positive
// limit returns everything.
func (s *ShortTermMemory) GetRecent(limit int) []ShortTermEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked()

	n := s.order.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ShortTermEntry, 0, n)
	for e := s.order.Front(); e != nil && len(out) < n; e = e.Next() {
		out = append(out, cloneShortTerm(e.Value.(*stItem).entry))
	}
	return out
}

// GetPromotable returns entries eligible for promotion, oldest first.
func (s *ShortTermMemory) GetPromotable() []ShortTermEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked()

	var out []ShortTermEntry
	for e := s.order.Back(); e != nil; e = e.Prev() {
		entry := e.Value.(*stItem).entry
		if s.promotableLocked(entry) {
			out = append(out, cloneShortTerm(entry))
		}
	}
	return out
}

func (s *ShortTermMemory) promotableLocked(entry *ShortTermEntry) bool {
	return entry.Importance >= s.opts.ImportanceThreshold ||
		entry.AccessCount >= s.opts.AccessThreshold
}

// MarkPromoted removes an entry after its long-term write succeeded. It
// returns false if the entry is no longer buffered.
func (s *ShortTermMemory) MarkPromoted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[id]
	if !ok {
		return false
	}
	s.removeLocked(elem)
	s.stats.Promoted++
	return true
}

// Lookup returns a copy of a buffered entry.
func (s *ShortTermMemory) Lookup(id string) (ShortTermEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked()

	elem, ok := s.items[id]
	if !ok {
		return ShortTermEntry{}, false
	}
	return cloneShortTerm(elem.Value.(*stItem).entry), true
}

// PurgeExpired drops entries older than the TTL and returns how many.
func (s *ShortTermMemory) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeExpiredLocked()
}

// SetThresholds changes promotion eligibility.
func (s *ShortTermMemory) SetThresholds(importance float64, access int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.ImportanceThreshold = importance
	if access > 0 {
		s.opts.AccessThreshold = access
	}
}

// Len returns the number of buffered entries.
func (s *ShortTermMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Stats returns a snapshot of the counters.
func (s *ShortTermMemory) Stats() ShortTermStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Size = s.order.Len()
	st.MaxSize = s.opts.MaxSize
	return st
}

func (s *ShortTermMemory) purgeExpiredLocked() int {
	if s.opts.TTL <= 0 {
		return 0
	}
	cutoff := s.opts.Now().Add(-s.opts.TTL)
	n := 0
	for e := s.order.Back(); e != nil; {
		prev := e.Prev()
		if !e.Value.(*stItem).entry.Timestamp.Before(cutoff) {
			break
		}
		s.removeLocked(e)
		s.stats.Expired++
		n++
		e = prev
	}
	return n
}

func (s *ShortTermMemory) removeLocked(elem *list.Element) ShortTermEntry {
	item := elem.Value.(*stItem)
	s.order.Remove(elem)
	delete(s.items, item.entry.ID)
	delete(s.byContent, item.key)
	return *item.entry
}

func tokenSet(text string) map[string]struct{} {
	tokens := embedding.Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
