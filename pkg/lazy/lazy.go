// Package lazy provides thread-safe lazily constructed shared values.
//
// A Value is built at most once under concurrent first access using
// double-checked locking: an atomic load without the lock, then the lock,
// a re-check, a single construction and an atomic publish. A failed build
// is reported as a *LoadError and nothing is cached, so the next caller
// retries construction from scratch.
package lazy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// LoadError reports a failed construction of a lazily built value.
type LoadError struct {
	// Name identifies the value that failed to load.
	Name string
	// Attempt is the 1-based construction attempt that failed.
	Attempt int64
	// Err is the underlying cause.
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("lazy: load %s (attempt %d): %v", e.Name, e.Attempt, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// BuildFunc constructs a value.
type BuildFunc[T any] func(ctx context.Context) (T, error)

// Value is a lazily constructed, shared value.
type Value[T any] struct {
	name  string
	build BuildFunc[T]

	mu       sync.Mutex
	ptr      atomic.Pointer[T]
	attempts atomic.Int64
}

// New creates a Value that is built by build on first access.
func New[T any](name string, build BuildFunc[T]) *Value[T] {
	return &Value[T]{name: name, build: build}
}

// Get returns the value, constructing it if needed.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	if p := v.ptr.Load(); p != nil {
		return *p, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if p := v.ptr.Load(); p != nil {
		return *p, nil
	}

	attempt := v.attempts.Add(1)
	val, err := v.build(ctx)
	if err != nil {
		var zero T
		return zero, &LoadError{Name: v.name, Attempt: attempt, Err: err}
	}
	v.ptr.Store(&val)
	return val, nil
}

// Peek returns the value only if it has already been built.
func (v *Value[T]) Peek() (T, bool) {
	if p := v.ptr.Load(); p != nil {
		return *p, true
	}
	var zero T
	return zero, false
}

