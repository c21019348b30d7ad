package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the memory system.
var (
	ErrInvalidEntityID   = errors.New("memory: invalid entity ID")
	ErrUnknownCategory   = errors.New("memory: unknown category")
	ErrUnknownSource     = errors.New("memory: unknown source")
	ErrDimensionMismatch = errors.New("memory: vector dimension mismatch")
	ErrNotFound          = errors.New("memory: entry not found")
	ErrNotShareable      = errors.New("memory: entry is not shareable")
	ErrEngineClosed      = errors.New("memory: engine closed")
)

// Rejection explains why content was not accepted. The zero value means
// the content was accepted.
type Rejection string

const (
	RejectNone     Rejection = ""
	RejectEmpty    Rejection = "empty"
	RejectTooShort Rejection = "too_short"
	RejectFiller   Rejection = "filler"
	RejectCommand  Rejection = "command"
)

// WriteResult is the outcome of a short-term write. A rejected write has an
// empty ID and a non-empty Rejection; it is not an error.
type WriteResult struct {
	ID        string    `json:"id"`
	Rejection Rejection `json:"rejection,omitempty"`

	// Duplicate is set when the content matched an entry already buffered.
	Duplicate bool `json:"duplicate,omitempty"`

	// PromotionScheduled is set when the write queued an immediate promotion.
	PromotionScheduled bool `json:"promotion_scheduled,omitempty"`
}

// Rejected reports whether the content was refused.
func (r WriteResult) Rejected() bool {
	return r.Rejection != RejectNone
}

// WriteError is a persistence failure. The entry it concerns keeps its
// current tier and is retried later.
type WriteError struct {
	Op    string
	Scope string
	ID    string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("memory: %s %s/%s: %v", e.Op, e.Scope, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the write gave up on a deadline.
func (e *WriteError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// MetricsRecorder receives engine events. Implementations must be safe for
// concurrent use.
type MetricsRecorder interface {
	RecordShortTermAdd(entityID string, rejection Rejection)
	RecordEviction(entityID string)
	RecordPromotion(entityID, outcome string)
	RecordRetrieval(entityID string, duration time.Duration, hits int)
	RecordRecall(entityID string)
	RecordEntitySwitch(from, to string)
	RecordConsolidation(scope string, removed int)
	RecordFailure(op string)
	SetLongTermSize(scope string, size int)
}

type nopMetrics struct{}

func (nopMetrics) RecordShortTermAdd(string, Rejection)       {}
func (nopMetrics) RecordEviction(string)                      {}
func (nopMetrics) RecordPromotion(string, string)             {}
func (nopMetrics) RecordRetrieval(string, time.Duration, int) {}
func (nopMetrics) RecordRecall(string)                        {}
func (nopMetrics) RecordEntitySwitch(string, string)          {}
func (nopMetrics) RecordConsolidation(string, int)            {}
func (nopMetrics) RecordFailure(string)                       {}
func (nopMetrics) SetLongTermSize(string, int)                {}

// Promotion outcomes passed to MetricsRecorder.RecordPromotion.
const (
	OutcomePromoted = "promoted"
	OutcomeMerged   = "merged"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"

	// outcomeGone means the entry left the buffer before it could be
	// claimed. It is neither counted nor recorded.
	outcomeGone = "gone"
)
