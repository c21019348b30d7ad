package embedding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys.
const DefaultRedisPrefix = "memoria:emb:"

// RedisBackend stores each vector under prefix+hash and tracks creation
// times in a sorted set so old rows can be purged by score.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
}

// NewRedisBackend wraps an existing client. The client is pinged once.
func NewRedisBackend(ctx context.Context, client redis.Cmdable, prefix string) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("embedding: redis client is nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("embedding: redis ping: %w", err)
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) indexKey() string { return b.prefix + "index" }

func (b *RedisBackend) vectorKey(key string) string { return b.prefix + "v:" + key }

func (b *RedisBackend) Get(ctx context.Context, key string) ([]float32, bool, error) {
	blob, err := b.client.Get(ctx, b.vectorKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding: redis get: %w", err)
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, vec []float32, createdAt time.Time) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.vectorKey(key), encodeVector(vec), 0)
		pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: float64(createdAt.Unix()), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("embedding: redis set: %w", err)
	}
	return nil
}

func (b *RedisBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	// Scores are inclusive in ZRANGEBYSCORE; "(" makes the bound exclusive.
	stale, err := b.client.ZRangeByScore(ctx, b.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("embedding: redis scan index: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	keys := make([]string, len(stale))
	members := make([]interface{}, len(stale))
	for i, k := range stale {
		keys[i] = b.vectorKey(k)
		members[i] = k
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, b.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("embedding: redis clear: %w", err)
	}
	return len(stale), nil
}

func (b *RedisBackend) Len(ctx context.Context) (int, error) {
	n, err := b.client.ZCard(ctx, b.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("embedding: redis count: %w", err)
	}
	return int(n), nil
}

// Close is a no-op; the client belongs to the caller.
func (b *RedisBackend) Close() error { return nil }
