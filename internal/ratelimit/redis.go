package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "sentinel:ratelimit:"

// RedisLimiter is a fixed-window counter shared by every API replica. Each
// window is one key that expires on its own, so state stays bounded.
type RedisLimiter struct {
	client goredis.Cmdable
	max    int64
	window time.Duration
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter allows perMinute requests per client per minute.
func NewRedisLimiter(client goredis.Cmdable, perMinute int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		max:    int64(perMinute),
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().UnixNano() / int64(l.window)
	k := keyPrefix + key + ":" + strconv.FormatInt(window, 10)

	var incr *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis: rate limit: %w", err)
	}
	return incr.Val() <= l.max, nil
}

// Stop is a no-op; the Redis client is owned by the caller.
func (l *RedisLimiter) Stop() {}
