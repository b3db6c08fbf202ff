package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWindow increments KEYS[1] and makes sure the key carries the window
// expiry. Returns {count, remaining_ms}.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) IncrementAndCheck(ctx context.Context, key string, limit int64, window time.Duration) (bool, time.Time, error) {
	res, err := incrWindow.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed incrementing %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, time.Time{}, fmt.Errorf("unexpected window script reply of length %d", len(res))
	}
	resetAt := s.now().Add(time.Duration(res[1]) * time.Millisecond)
	return res[0] <= limit, resetAt, nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, key, s.now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed marking %s: %w", key, err)
	}
	return created, nil
}
