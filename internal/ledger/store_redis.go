package ledger

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the ledger with Redis so claims survive restarts and are
// shared across processes. SETNX is the indivisible check-and-set.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func claimKey(scope, key string) string {
	return fmt.Sprintf("payrun:ledger:%s:%s", scope, key)
}

func (s *RedisStore) RecordIfAbsent(ctx context.Context, scope, key string) (bool, error) {
	// No expiry: claims are permanent by contract.
	claimed, err := s.client.SetNX(ctx, claimKey(scope, key), "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("ledger setnx: %w", err)
	}
	return claimed, nil
}

func (s *RedisStore) HasRecorded(ctx context.Context, scope, key string) (bool, error) {
	n, err := s.client.Exists(ctx, claimKey(scope, key)).Result()
	if err != nil {
		return false, fmt.Errorf("ledger exists: %w", err)
	}
	return n > 0, nil
}
