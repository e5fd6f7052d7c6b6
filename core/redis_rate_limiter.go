package core

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var issueLimitScript = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current == false then
		redis.call("SET", KEYS[1], 1, "EX", ARGV[2])
		return 1
	end
	local count = tonumber(current)
	if count >= tonumber(ARGV[1]) then
		return 0
	end
	redis.call("INCR", KEYS[1])
	return 1
`)

type RedisRateLimiter struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisRateLimiter(client *redis.Client, keyPrefix string) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = "classify-access:issue-rate:"
	}
	return &RedisRateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisRateLimiter) key(client string) string {
	return fmt.Sprintf("%s%s", r.keyPrefix, client)
}

func (r *RedisRateLimiter) CheckAndIncrement(ctx context.Context, client string, limit int, window time.Duration) error {
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	result, err := issueLimitScript.Run(ctx, r.client, []string{r.key(client)}, limit, seconds).Int()
	if err != nil {
		return fmt.Errorf("%w: rate limit: %w", ErrStorage, err)
	}
	if result == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}
