package memory

import (
	"math"
	"testing"
	"time"
)

func TestDecayPolicy_HalfLife(t *testing.T) {
	clock := newFakeClock()
	p := NewDecayPolicy(nil, 0, clock.Now)

	got := p.CalculateDecay(clock.Now().Add(-3*day), CategoryContext)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5 after one context half-life, got %f", got)
	}
	got = p.CalculateDecay(clock.Now().Add(-730*day), CategoryUserInfo)
	if math.Abs(got-0.25) > 1e-9 {
		t.Errorf("expected 0.25 after two user_info half-lives, got %f", got)
	}
}

func TestDecayPolicy_FutureAndNow(t *testing.T) {
	clock := newFakeClock()
	p := NewDecayPolicy(nil, 0, clock.Now)
	if got := p.CalculateDecay(clock.Now(), CategoryEvent); got != 1 {
		t.Errorf("expected 1 at age zero, got %f", got)
	}
	if got := p.CalculateDecay(clock.Now().Add(time.Hour), CategoryEvent); got != 1 {
		t.Errorf("expected 1 for a future timestamp, got %f", got)
	}
}

func TestDecayPolicy_Monotone(t *testing.T) {
	clock := newFakeClock()
	p := NewDecayPolicy(nil, 0, clock.Now)
	for _, c := range Categories() {
		prev := 1.0
		for _, age := range []time.Duration{time.Hour, day, 7 * day, 90 * day, 3650 * day} {
			m := p.CalculateDecay(clock.Now().Add(-age), c)
			if m <= 0 || m > 1 {
				t.Fatalf("%s at %v: multiplier %g out of (0,1]", c, age, m)
			}
			if m > prev {
				t.Errorf("%s: decay increased from %g to %g at %v", c, prev, m, age)
			}
			prev = m
		}
	}
}

func TestDecayPolicy_UserInfoOutlastsContext(t *testing.T) {
	clock := newFakeClock()
	p := NewDecayPolicy(nil, 0, clock.Now)
	for _, age := range []time.Duration{time.Hour, 2 * day, 30 * day, 400 * day} {
		ts := clock.Now().Add(-age)
		if p.CalculateDecay(ts, CategoryUserInfo) < p.CalculateDecay(ts, CategoryContext) {
			t.Errorf("user_info decayed faster than context at %v", age)
		}
	}
}

func TestDecayPolicy_Overrides(t *testing.T) {
	clock := newFakeClock()
	p := NewDecayPolicy(map[Category]time.Duration{CategoryEmotion: day, CategoryTask: 0}, 0, clock.Now)
	if got := p.HalfLife(CategoryEmotion); got != day {
		t.Errorf("expected overridden emotion half-life, got %v", got)
	}
	if got := p.HalfLife(CategoryTask); got != 14*day {
		t.Errorf("expected default task half-life for zero override, got %v", got)
	}
	if got := p.HalfLife(Category("unknown")); got != DefaultHalfLife {
		t.Errorf("expected fallback half-life, got %v", got)
	}
}

func TestDecayPolicy_Expired(t *testing.T) {
	clock := newFakeClock()
	p := NewDecayPolicy(nil, 0, clock.Now)
	fresh := &MemoryEntry{Category: CategoryContext, Timestamp: clock.Now()}
	stale := &MemoryEntry{Category: CategoryContext, Timestamp: clock.Now().Add(-30 * day)}

	if p.Expired(fresh, 0.05) {
		t.Error("fresh entry reported expired")
	}
	if !p.Expired(stale, 0.05) {
		t.Error("ten context half-lives should fall below a 0.05 floor")
	}
	// Importance does not affect expiry.
	fresh.Importance = 0
	if p.Expired(fresh, 0.05) {
		t.Error("zero importance should not expire a fresh entry")
	}
}

func TestApplyDecayToScore(t *testing.T) {
	clock := newFakeClock()
	p := NewDecayPolicy(nil, 0, clock.Now)
	got := p.ApplyDecayToScore(0.8, clock.Now().Add(-7*day), CategoryEmotion)
	if math.Abs(got-0.4) > 1e-9 {
		t.Errorf("expected 0.4, got %f", got)
	}
}
