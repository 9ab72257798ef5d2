package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/sentinel-judge/internal/repository"
)

var _ repository.IdempotencyStore = (*redisIdempotency)(nil)

const (
	lockKeyPrefix = "sentinel:lock:"
	lockTTL       = 10 * time.Minute
	doneTTL       = 24 * time.Hour
)

type redisIdempotency struct {
	client goredis.Cmdable
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store using SETNX.
func NewRedisIdempotencyStore(client goredis.Cmdable) repository.IdempotencyStore {
	return &redisIdempotency{client: client}
}

// AcquireLock uses Redis SETNX to atomically acquire a processing lock.
// The lock expires on its own if the worker dies mid-job.
func (r *redisIdempotency) AcquireLock(ctx context.Context, messageID string) (bool, error) {
	key := lockKeyPrefix + messageID
	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock extends the lock TTL so the finished message stays deduplicated.
func (r *redisIdempotency) ReleaseLock(ctx context.Context, messageID string) error {
	if err := r.client.Expire(ctx, lockKeyPrefix+messageID, doneTTL).Err(); err != nil {
		return fmt.Errorf("redis: release lock: %w", err)
	}
	return nil
}

// Forget deletes the lock.
func (r *redisIdempotency) Forget(ctx context.Context, messageID string) error {
	if err := r.client.Del(ctx, lockKeyPrefix+messageID).Err(); err != nil {
		return fmt.Errorf("redis: forget lock: %w", err)
	}
	return nil
}
