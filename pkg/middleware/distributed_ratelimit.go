package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter counts requests per fixed window in Redis so limits
// are shared across instances. On Redis errors it defers to the local
// fallback limiter.
type DistributedRateLimiter struct {
	redis    *redis.Client
	config   *RateLimitConfig
	prefix   string
	fallback *RateLimiter
}

// NewDistributedRateLimiter creates a Redis-backed limiter. fallback may be
// nil, in which case Redis errors allow the request.
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string, fallback *RateLimiter) *DistributedRateLimiter {
	if config == nil {
		config = AnonRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ptbhub:ratelimit"
	}
	return &DistributedRateLimiter{
		redis:    redisClient,
		config:   config,
		prefix:   prefix,
		fallback: fallback,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Config implements Limiter
func (rl *DistributedRateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow implements Limiter. The returned error reports a Redis failure; the
// decision is then taken by the fallback limiter.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err == nil && count == 1 {
		err = rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err()
	}
	if err != nil {
		if rl.fallback != nil {
			return rl.fallback.take(key), fmt.Errorf("redis error: %w", err)
		}
		return true, fmt.Errorf("redis error: %w", err)
	}

	return count <= int64(rl.config.capacity()), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return rl.config.capacity(), nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.capacity() - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the counter for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// NewLimiter returns a Redis limiter backed by a local bucket when client is
// set, otherwise the local bucket alone
func NewLimiter(client *redis.Client, config *RateLimitConfig, prefix string) Limiter {
	local := NewRateLimiter(config, nil)
	if client == nil {
		return local
	}
	return NewDistributedRateLimiter(client, config, prefix, local)
}
