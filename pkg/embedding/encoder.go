// Package embedding turns text into fixed-length vectors and memoizes them
// in a content-addressed cache.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
)

// DefaultDimension is the vector length used when none is configured.
const DefaultDimension = 384

// ErrInvalidDimension is returned for non-positive encoder dimensions.
var ErrInvalidDimension = errors.New("embedding: dimension must be positive")

// Encoder maps text to a vector of a fixed dimension.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// HashEncoder is a deterministic feature-hashing encoder. Each content token
// is hashed into one signed bucket and the result is L2-normalized, so texts
// sharing tokens have positive cosine similarity. It needs no model files.
type HashEncoder struct {
	dim int
}

// NewHashEncoder creates a HashEncoder producing vectors of length dim.
func NewHashEncoder(dim int) (*HashEncoder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dim)
	}
	return &HashEncoder{dim: dim}, nil
}

// Dimension returns the vector length.
func (e *HashEncoder) Dimension() int {
	return e.dim
}

// Encode returns the hashed token vector of text. Text without content
// tokens encodes to the zero vector.
func (e *HashEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dim)
	for _, tok := range Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var sq float64
	for _, v := range vec {
		sq += float64(v) * float64(v)
	}
	if sq == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sq))
	for i := range vec {
		vec[i] *= inv
	}
}
