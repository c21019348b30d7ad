package memoryv1

import "time"

type RememberRequest struct {
	EntityID string `json:"entity_id" validate:"required,max=128"`
	Content  string `json:"content" validate:"required,max=8192"`

	// Importance defaults to 0.5 when nil.
	Importance *float64          `json:"importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	Category   string            `json:"category,omitempty"`
	Source     string            `json:"source,omitempty" validate:"max=64"`
	Metadata   map[string]string `json:"metadata,omitempty" validate:"max=32"`
}

type RememberResponse struct {
	ID                 string `json:"id,omitempty"`
	Accepted           bool   `json:"accepted"`
	Rejection          string `json:"rejection,omitempty"`
	Duplicate          bool   `json:"duplicate,omitempty"`
	PromotionScheduled bool   `json:"promotion_scheduled,omitempty"`
}

type RetrieveRequest struct {
	EntityID string `json:"entity_id" validate:"required,max=128"`
	Query    string `json:"query" validate:"required,max=4096"`
}

type RetrieveResponse struct {
	Context string `json:"context"`
}

type SearchRequest struct {
	EntityID string `json:"entity_id" validate:"required,max=128"`
	Query    string `json:"query" validate:"required,max=4096"`

	// Limit defaults to 5 when zero.
	Limit int `json:"limit,omitempty" validate:"gte=0,lte=50"`
}

// SearchHit is one ranked memory.
type SearchHit struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	Source     string    `json:"source,omitempty"`
	Importance float64   `json:"importance"`
	Timestamp  time.Time `json:"timestamp"`
	Similarity float64   `json:"similarity"`
	Score      float64   `json:"score"`
}

type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

type SwitchEntityRequest struct {
	From   string `json:"from,omitempty" validate:"max=128"`
	To     string `json:"to" validate:"required,max=128"`
	Reason string `json:"reason,omitempty" validate:"max=256"`
}

type SwitchEntityResponse struct {
	Seq       uint64    `json:"seq"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type RecallRequest struct {
	EntityID string `json:"entity_id" validate:"required,max=128"`
	Text     string `json:"text" validate:"required,max=8192"`
}

type RecallResponse struct {
	Surfaced bool   `json:"surfaced"`
	Prompt   string `json:"prompt,omitempty"`
}

// PromoteRequest promotes one entry when ID is set, otherwise every
// eligible entry of the entity.
type PromoteRequest struct {
	EntityID string `json:"entity_id" validate:"required,max=128"`
	ID       string `json:"id,omitempty" validate:"max=64"`
}

type PromoteResponse struct {
	Promoted int  `json:"promoted"`
	Merged   int  `json:"merged"`
	Skipped  int  `json:"skipped"`
	Failed   int  `json:"failed"`
	Canceled bool `json:"canceled,omitempty"`

	// State is the entry's lifecycle position after a single-entry promotion.
	State string `json:"state,omitempty"`
}

type StatsRequest struct{}

// EntityStats summarizes one loaded entity.
type EntityStats struct {
	EntityID  string `json:"entity_id"`
	ShortTerm int    `json:"short_term"`
	LongTerm  int    `json:"long_term"`
}

type StatsResponse struct {
	Entities       []EntityStats `json:"entities"`
	SharedMemories int           `json:"shared_memories"`
	EntitySwitches int           `json:"entity_switches"`
	Failures       int64         `json:"failures"`
	Running        bool          `json:"running"`
}
