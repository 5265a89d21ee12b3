package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter is a fixed-window counter shared by every instance through redis
type RedisLimiter struct {
	redis  *redis.Client
	limit  Limit
	prefix string
}

// NewRedisLimiter creates a redis-backed limiter. Keys are stored as prefix:key.
func NewRedisLimiter(client *redis.Client, limit Limit, prefix string) *RedisLimiter {
	if limit.Requests <= 0 {
		limit.Requests = DefaultLimit().Requests
	}
	if limit.Window <= 0 {
		limit.Window = DefaultLimit().Window
	}
	if prefix == "" {
		prefix = "tenantry:ratelimit"
	}
	return &RedisLimiter{redis: client, limit: limit, prefix: prefix}
}

// Allow counts the request against the current window
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}

	// the window starts with the first request in it
	ttl := pttl.Val()
	if ttl < 0 {
		if err := rl.redis.PExpire(ctx, redisKey, rl.limit.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis error: %w", err)
		}
		ttl = rl.limit.Window
	}

	count := incr.Val()
	d := Decision{Limit: rl.limit.Requests}
	if count > int64(rl.limit.Requests) {
		d.RetryAfter = ttl
		return d, nil
	}
	d.Allowed = true
	d.Remaining = rl.limit.Requests - int(count)
	return d, nil
}

// Reset clears the counter for key
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// TTL returns the time until key's window resets
func (rl *RedisLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.PTTL(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Result()
}
