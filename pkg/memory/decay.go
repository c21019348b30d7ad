package memory

import (
	"math"
	"time"

	"github.com/goclaw/memoria/config"
)

const day = 24 * time.Hour

// DefaultHalfLife applies to categories without their own half-life.
const DefaultHalfLife = 30 * day

// DefaultHalfLives returns the built-in half-life per category.
func DefaultHalfLives() map[Category]time.Duration {
	return map[Category]time.Duration{
		CategoryUserInfo:   365 * day,
		CategoryPreference: 180 * day,
		CategoryFact:       180 * day,
		CategoryEvent:      30 * day,
		CategoryTask:       14 * day,
		CategoryEmotion:    7 * day,
		CategoryContext:    3 * day,
	}
}

// DecayPolicy maps (age, category) to a relevance multiplier using
// exponential half-life decay. A DecayPolicy is immutable once built.
type DecayPolicy struct {
	halfLives map[Category]time.Duration
	fallback  time.Duration
	now       func() time.Time
}

// NewDecayPolicy builds a policy. Missing or non-positive half-lives fall
// back to the built-in values; a nil clock uses time.Now.
func NewDecayPolicy(halfLives map[Category]time.Duration, fallback time.Duration, now func() time.Time) *DecayPolicy {
	merged := DefaultHalfLives()
	for c, hl := range halfLives {
		if hl > 0 {
			merged[c] = hl
		}
	}
	if fallback <= 0 {
		fallback = DefaultHalfLife
	}
	if now == nil {
		now = time.Now
	}
	return &DecayPolicy{halfLives: merged, fallback: fallback, now: now}
}

// DecayPolicyFromConfig builds a policy from configured half-lives.
func DecayPolicyFromConfig(cfg config.DecayConfig, now func() time.Time) *DecayPolicy {
	return NewDecayPolicy(map[Category]time.Duration{
		CategoryUserInfo:   cfg.UserInfo,
		CategoryPreference: cfg.Preference,
		CategoryFact:       cfg.Fact,
		CategoryEvent:      cfg.Event,
		CategoryTask:       cfg.Task,
		CategoryEmotion:    cfg.Emotion,
		CategoryContext:    cfg.Context,
	}, cfg.Default, now)
}

var defaultDecay = NewDecayPolicy(nil, 0, nil)

// HalfLife returns the half-life used for c.
func (p *DecayPolicy) HalfLife(c Category) time.Duration {
	if hl, ok := p.halfLives[c]; ok {
		return hl
	}
	return p.fallback
}

// Now returns the policy clock's current time.
func (p *DecayPolicy) Now() time.Time {
	return p.now()
}

// CalculateDecay returns 0.5^(age/halfLife) in (0, 1]. Timestamps in the
// future count as age zero.
func (p *DecayPolicy) CalculateDecay(timestamp time.Time, category Category) float64 {
	age := p.now().Sub(timestamp)
	if age <= 0 {
		return 1
	}
	m := math.Pow(0.5, float64(age)/float64(p.HalfLife(category)))
	if m < math.SmallestNonzeroFloat64 {
		return math.SmallestNonzeroFloat64
	}
	return m
}

// ApplyDecayToScore scales base by the decay multiplier.
func (p *DecayPolicy) ApplyDecayToScore(base float64, timestamp time.Time, category Category) float64 {
	return base * p.CalculateDecay(timestamp, category)
}

// Expired reports whether e has decayed below floor. Expired entries are
// kept but never surfaced.
func (p *DecayPolicy) Expired(e *MemoryEntry, floor float64) bool {
	return p.CalculateDecay(e.Timestamp, e.Category) < floor
}

// CalculateDecay uses the default half-lives and the wall clock.
func CalculateDecay(timestamp time.Time, category Category) float64 {
	return defaultDecay.CalculateDecay(timestamp, category)
}

// ApplyDecayToScore uses the default half-lives and the wall clock.
func ApplyDecayToScore(base float64, timestamp time.Time, category Category) float64 {
	return defaultDecay.ApplyDecayToScore(base, timestamp, category)
}

// since reports the age of t on the policy clock.
func (p *DecayPolicy) since(t time.Time) time.Duration {
	return p.now().Sub(t)
}
