// Package memory implements a tiered persona memory: a bounded short-term
// buffer per entity, promotion into long-term vector stores, time decay,
// consolidation of near-duplicates, cross-entity sharing and proactive recall.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goclaw/memoria/pkg/embedding"
)

// Category classifies what a memory is about.
type Category string

const (
	CategoryFact       Category = "fact"
	CategoryPreference Category = "preference"
	CategoryEmotion    Category = "emotion"
	CategoryEvent      Category = "event"
	CategoryUserInfo   Category = "user_info"
	CategoryContext    Category = "context"
	CategoryTask       Category = "task"
)

// Categories returns every known category.
func Categories() []Category {
	return []Category{
		CategoryFact, CategoryPreference, CategoryEmotion, CategoryEvent,
		CategoryUserInfo, CategoryContext, CategoryTask,
	}
}

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryFact, CategoryPreference, CategoryEmotion, CategoryEvent,
		CategoryUserInfo, CategoryContext, CategoryTask:
		return true
	}
	return false
}

// Horizon is the temporal tier of a memory.
type Horizon string

const (
	HorizonShort  Horizon = "short"
	HorizonMedium Horizon = "medium"
	HorizonLong   Horizon = "long"
)

// HorizonFor derives a horizon from importance.
func HorizonFor(importance float64) Horizon {
	switch {
	case importance >= 0.7:
		return HorizonLong
	case importance >= 0.4:
		return HorizonMedium
	default:
		return HorizonShort
	}
}

// Source tells where a memory came from. Everything except
// SourceConversation belongs to the global, cross-persona profile.
type Source string

const (
	SourceUserProfile     Source = "user_profile"
	SourceFaceRecognition Source = "face_recognition"
	SourcePreference      Source = "preference"
	SourceFact            Source = "fact"
	SourceConversation    Source = "conversation"
)

// ParseSource returns the source named by s, case-insensitively.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if !src.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
	}
	return src, nil
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceConversation || s.Global()
}

// Global reports whether the source feeds the shared profile.
func (s Source) Global() bool {
	switch s {
	case SourceUserProfile, SourceFaceRecognition, SourcePreference, SourceFact:
		return true
	}
	return false
}

// DefaultSource maps a category to the source a classified memory is
// attributed to when the caller does not name one.
func DefaultSource(c Category) Source {
	switch c {
	case CategoryUserInfo:
		return SourceUserProfile
	case CategoryPreference:
		return SourcePreference
	case CategoryFact:
		return SourceFact
	default:
		return SourceConversation
	}
}

// Metadata keys with engine-defined meaning.
const (
	MetaSource           = "source"
	MetaOriginEntity     = "origin_entity"
	MetaSharedFrom       = "shared_from"
	MetaMergedFrom       = "merged_from"
	MetaConsolidatedFrom = "consolidated_from"
)

// MemoryEntry is a long-term memory.
type MemoryEntry struct {
	ID string `json:"id"`

	// EntityID is the owning persona; empty for global entries.
	EntityID string `json:"entity_id,omitempty"`

	Content    string   `json:"content"`
	Category   Category `json:"category"`
	Horizon    Horizon  `json:"horizon"`
	Source     Source   `json:"source,omitempty"`
	Importance float64  `json:"importance"`

	// Timestamp is when the memory was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Vector is computed on demand by EnsureVector.
	Vector []float32 `json:"vector,omitempty"`

	AccessCount int               `json:"access_count"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EnsureVector encodes the content if the entry has no vector yet.
func (e *MemoryEntry) EnsureVector(ctx context.Context, enc embedding.Encoder) ([]float32, error) {
	if len(e.Vector) > 0 {
		return e.Vector, nil
	}
	vec, err := enc.Encode(ctx, e.Content)
	if err != nil {
		return nil, fmt.Errorf("memory: encode entry %s: %w", e.ID, err)
	}
	e.Vector = vec
	return vec, nil
}

// ShortTermEntry is a recent input held in the short-term buffer.
type ShortTermEntry struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	Timestamp   time.Time         `json:"timestamp"`
	Importance  float64           `json:"importance"`
	Category    Category          `json:"category"`
	AccessCount int               `json:"access_count"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// source resolves the entry's source from metadata or its category.
func (e ShortTermEntry) source() Source {
	if s := Source(e.Metadata[MetaSource]); s != "" {
		return s
	}
	return DefaultSource(e.Category)
}

// ScoredEntry is a query hit. Similarity is the raw cosine; Score is the
// similarity after time decay.
type ScoredEntry struct {
	Entry      *MemoryEntry `json:"entry"`
	Similarity float64      `json:"similarity"`
	Score      float64      `json:"score"`
}

// SharedMemory is an entry in the cross-entity pool.
type SharedMemory struct {
	Entry    *MemoryEntry `json:"entry"`
	Origin   string       `json:"origin"`
	Category Category     `json:"category"`
}

// EntitySwitchRecord is one append-only ledger row.
type EntitySwitchRecord struct {
	Seq       uint64    `json:"seq"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EntryState is the lifecycle position of an entry.
type EntryState int

const (
	StateUnknown EntryState = iota
	StateNew
	StateShortTerm
	StatePromotionPending
	StateLongTerm
	StateConsolidated
	StateExpired
)

func (s EntryState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateShortTerm:
		return "short_term"
	case StatePromotionPending:
		return "promotion_pending"
	case StateLongTerm:
		return "long_term"
	case StateConsolidated:
		return "consolidated"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s EntryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func clampImportance(v float64) float64 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
