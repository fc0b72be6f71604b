package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupeStore is a DedupeStore shared across worker processes, backed
// by Redis keys with a TTL.
type RedisDedupeStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDedupeStore creates a RedisDedupeStore on an existing Redis client.
func NewRedisDedupeStore(client *redis.Client, ttl time.Duration) *RedisDedupeStore {
	return &RedisDedupeStore{client: client, ttl: ttl}
}

// Seen reports whether key is currently marked.
func (s *RedisDedupeStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, dedupeKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe check %s: %w", key, err)
	}
	return n > 0, nil
}

// Mark records key for the TTL window. SET NX keeps the original expiry when
// two workers complete the same task concurrently.
func (s *RedisDedupeStore) Mark(ctx context.Context, key string) error {
	if err := s.client.SetNX(ctx, dedupeKey(key), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe mark %s: %w", key, err)
	}
	return nil
}

// dedupeKey namespaces task keys in the shared Redis keyspace.
func dedupeKey(key string) string {
	return "taskqueue:dedupe:" + key
}
