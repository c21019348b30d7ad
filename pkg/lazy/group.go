package lazy

import (
	"context"
	"fmt"
	"sync"
)

// KeyedBuildFunc constructs the value for a key.
type KeyedBuildFunc[K comparable, T any] func(ctx context.Context, key K) (T, error)

// Group holds one lazily built Value per key. Lookups of existing keys do
// not take a lock.
type Group[K comparable, T any] struct {
	name  string
	build KeyedBuildFunc[K, T]

	mu     sync.Mutex
	values sync.Map // K -> *Value[T]
}

// NewGroup creates a keyed group of lazy values.
func NewGroup[K comparable, T any](name string, build KeyedBuildFunc[K, T]) *Group[K, T] {
	return &Group[K, T]{name: name, build: build}
}

// Get returns the value for key, constructing it on first access.
func (g *Group[K, T]) Get(ctx context.Context, key K) (T, error) {
	return g.slot(key).Get(ctx)
}

// Peek returns the value for key only if it has already been built.
func (g *Group[K, T]) Peek(key K) (T, bool) {
	if v, ok := g.values.Load(key); ok {
		return v.(*Value[T]).Peek()
	}
	var zero T
	return zero, false
}

// Range calls fn for every built value. Iteration stops when fn returns false.
func (g *Group[K, T]) Range(fn func(key K, value T) bool) {
	g.values.Range(func(k, v any) bool {
		val, ok := v.(*Value[T]).Peek()
		if !ok {
			return true
		}
		return fn(k.(K), val)
	})
}

// Len returns the number of built values.
func (g *Group[K, T]) Len() int {
	n := 0
	g.Range(func(K, T) bool {
		n++
		return true
	})
	return n
}

func (g *Group[K, T]) slot(key K) *Value[T] {
	if v, ok := g.values.Load(key); ok {
		return v.(*Value[T])
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if v, ok := g.values.Load(key); ok {
		return v.(*Value[T])
	}

	v := New(fmt.Sprintf("%s[%v]", g.name, key), func(ctx context.Context) (T, error) {
		return g.build(ctx, key)
	})
	g.values.Store(key, v)
	return v
}
