package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const slidingWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local previous = tonumber(redis.call("GET", KEYS[2]) or "0")

-- Return: current window hits, previous window hits
return {current, previous}
`

const keyCallerWindow = "ratelimit:%s:%d"

type RedisBackend struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	if client == nil {
		return nil
	}
	return &RedisBackend{
		client: client,
		script: redis.NewScript(slidingWindowScript),
	}
}

func (b *RedisBackend) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, int64, error) {
	if b == nil || b.client == nil {
		return 0, 0, errors.New("rate limiter not configured")
	}
	if key == "" {
		return 0, 0, ErrEmptyKey
	}
	if window < time.Millisecond {
		return 0, 0, ErrInvalidWindow
	}

	start := windowStart(now, window).UnixMilli()
	prev := start - window.Milliseconds()
	// Kept for two windows so the next window can still weigh it.
	ttl := 2 * window.Milliseconds()

	res, err := b.script.Run(ctx, b.client,
		[]string{fmt.Sprintf(keyCallerWindow, key, start), fmt.Sprintf(keyCallerWindow, key, prev)},
		ttl,
	).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) < 2 {
		return 0, 0, errors.New("invalid rate limit script response")
	}
	return res[0], res[1], nil
}
