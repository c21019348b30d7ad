package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Backend persists cached vectors keyed by content hash.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32, createdAt time.Time) error
	// DeleteOlderThan removes rows created before cutoff and reports how many.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

type nopBackend struct{}

func (nopBackend) Name() string { return "none" }

func (nopBackend) Get(context.Context, string) ([]float32, bool, error) { return nil, false, nil }

func (nopBackend) Set(context.Context, string, []float32, time.Time) error { return nil }

func (nopBackend) DeleteOlderThan(context.Context, time.Time) (int, error) { return 0, nil }

func (nopBackend) Len(context.Context) (int, error) { return 0, nil }

func (nopBackend) Close() error { return nil }

// encodeVector serializes vec as little-endian float32s.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding: corrupt vector blob of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
