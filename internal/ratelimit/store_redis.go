// internal/ratelimit/store_redis.go
package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// incrementIfBelowScript performs the read-check-increment atomically inside
// Redis and returns {count, incremented} in the same round trip. A saturated
// counter comes back unchanged with incremented=0.
var incrementIfBelowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local incremented = 0
if current < tonumber(ARGV[1]) then
  current = redis.call('INCR', KEYS[1])
  incremented = 1
end
return {current, incremented}
`)

// RedisCounterStore implements CounterStore on a Redis instance. Atomicity
// comes from single-script execution; no WATCH or in-process locking needed.
type RedisCounterStore struct {
	client redis.Scripter
}

func NewRedisCounterStore(client redis.Scripter) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func counterKey(bucket, monthKey string) string {
	return fmt.Sprintf("usage:%s:%s", bucket, monthKey)
}

func (s *RedisCounterStore) IncrementIfBelow(ctx context.Context, bucket, monthKey string, limit int) (int, bool, error) {
	reply, err := incrementIfBelowScript.Run(ctx, s.client, []string{counterKey(bucket, monthKey)}, limit).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis usage counter for %s/%s: %w", bucket, monthKey, err)
	}
	if len(reply) != 2 {
		return 0, false, fmt.Errorf("redis usage counter for %s/%s: unexpected script reply %v", bucket, monthKey, reply)
	}
	count, ok := reply[0].(int64)
	if !ok {
		return 0, false, fmt.Errorf("redis usage counter for %s/%s: unexpected count %v", bucket, monthKey, reply[0])
	}
	incremented, _ := reply[1].(int64)
	return int(count), incremented == 1, nil
}
