package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// RedisStore is the shared fixed-window store; counters live in Redis so
// every engine replica sees the same windows. The window transition runs in
// a Lua script for atomicity.
type RedisStore struct {
	redis  *redis.Client
	script *redis.Script
	log    Logger
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, log Logger) *RedisStore {
	return &RedisStore{
		redis:  client,
		script: redis.NewScript(rateLimitScript),
		log:    log,
		prefix: "flow:ratelimit:",
	}
}

// Allow implements Store.
func (s *RedisStore) Allow(ctx context.Context, key string, window time.Duration, max int64) (*Decision, error) {
	if window <= 0 {
		window = time.Minute
	}
	result, err := s.script.Run(ctx, s.redis,
		[]string{s.prefix + key},
		window.Milliseconds(),
		max,
	).Result()
	if err != nil {
		s.log.Error("rate limit script failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed for key %s: %w", key, err)
	}

	// Script returns {allowed, current, limit, retry_after_ms}.
	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected rate limit script result: %v", result)
	}

	d := &Decision{
		Allowed:    toInt64(values[0]) == 1,
		Current:    toInt64(values[1]),
		Limit:      toInt64(values[2]),
		RetryAfter: toInt64(values[3]),
	}
	if !d.Allowed {
		s.log.Debug("rate limit exceeded",
			"key", key,
			"current", d.Current,
			"limit", d.Limit,
			"retry_after_ms", d.RetryAfter,
		)
	}
	return d, nil
}

// Current implements Store.
func (s *RedisStore) Current(ctx context.Context, key string) (int64, error) {
	count, err := s.redis.Get(ctx, s.prefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit counter for key %s: %w", key, err)
	}
	return count, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}
