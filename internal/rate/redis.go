package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The window starts at the first hit and the counter expires with it, which
// refills the bucket to full capacity once per period.
var takeScript = redis.NewScript(`
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

// RedisStore shares buckets between processes through Redis counters.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a RedisStore. An empty prefix defaults to "rl".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

// Take increments the window counter for key.
func (s *RedisStore) Take(ctx context.Context, key string, p Policy) (Decision, error) {
	res, err := takeScript.Run(ctx, s.redis, []string{s.prefix + ":" + key}, p.Period.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}

	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if count > int64(p.Capacity) {
		return Decision{RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: p.Capacity - int(count)}, nil
}
