package embedding

import "context"

// CachedEncoder memoizes an Encoder through a Cache.
type CachedEncoder struct {
	enc   Encoder
	cache *Cache
}

// NewCachedEncoder wraps enc. A nil cache disables memoization.
func NewCachedEncoder(enc Encoder, cache *Cache) *CachedEncoder {
	return &CachedEncoder{enc: enc, cache: cache}
}

// Dimension returns the wrapped encoder's dimension.
func (e *CachedEncoder) Dimension() int {
	return e.enc.Dimension()
}

// Encode returns the cached vector for text, computing it on a miss. Cached
// vectors of another dimension (written by a differently configured process)
// are recomputed and overwritten.
func (e *CachedEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	if e.cache == nil {
		return e.enc.Encode(ctx, text)
	}
	vec, err := e.cache.GetOrCompute(ctx, text, func(ctx context.Context) ([]float32, error) {
		return e.enc.Encode(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	if len(vec) == e.enc.Dimension() {
		return vec, nil
	}

	vec, err = e.enc.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Delete(text)
	_ = e.cache.Set(ctx, text, vec)
	return vec, nil
}

// Cache returns the underlying cache.
func (e *CachedEncoder) Cache() *Cache {
	return e.cache
}
