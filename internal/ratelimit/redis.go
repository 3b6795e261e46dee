package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goRedis "github.com/redis/go-redis/v9"
)

// slidingWindow trims the sorted set to the window, then admits the request
// if fewer than limit members remain. Scores are unix millis.
var slidingWindow = goRedis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, count, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisStore shares sliding windows across instances through Redis sorted sets.
type RedisStore struct {
	client goRedis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a RedisStore. Keys are stored under "ratelimit:".
func NewRedisStore(client goRedis.Scripter) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:", now: time.Now}
}

// NewRedisClient parses url, connects and performs a health check.
func NewRedisClient(ctx context.Context, url string) (*goRedis.Client, error) {
	opts, err := goRedis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goRedis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := s.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())
	res, err := slidingWindow.Run(ctx, s.client, []string{s.prefix + key},
		now, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: limit - int(res[1])}, nil
	}
	retry := time.Duration(res[2]+window.Milliseconds()-now) * time.Millisecond
	return Decision{Allowed: false, RetryAfter: retry}, nil
}
