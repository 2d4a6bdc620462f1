package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript increments the key's counter, starts the window on the first
// hit and returns {count, pttl}. A key that lost its expiry is re-armed.
var windowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisStore counts requests in fixed windows shared across instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore keys counters as prefix + policy + ":" + ip. An empty prefix
// uses "tradedesk:rl:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tradedesk:rl:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Allow(ctx context.Context, key string, p Policy) (Decision, error) {
	res, err := windowScript.Run(ctx, s.client, []string{s.prefix + key}, p.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit %s: %w", p.Name, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis rate limit %s: unexpected reply %v", p.Name, res)
	}
	if res[0] <= int64(p.Max) {
		return Decision{Allowed: true}, nil
	}
	retry := time.Duration(res[1]) * time.Millisecond
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// Ping reports whether redis is reachable, for readiness.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
