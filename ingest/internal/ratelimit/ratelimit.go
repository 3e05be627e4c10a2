package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/crm-ingest/ingest/internal/metrics"
)

// RateLimiter admits or rejects a request for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// slidingWindow keeps one sorted-set member per admitted request, scored by
// its arrival time in nanoseconds.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
if redis.call('ZCARD', key) < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, ttl)
	return 1
end
return 0
`)

type redisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisRateLimiter connects to redisURL and returns a limiter admitting
// limit requests per key per window.
func NewRedisRateLimiter(ctx context.Context, redisURL string, limit int, window time.Duration) (RateLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisRateLimiter(client, limit, window), nil
}

func newRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *redisRateLimiter {
	return &redisRateLimiter{client: client, limit: int64(limit), window: window, now: time.Now}
}

func (r *redisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now().UnixNano()
	windowStart := now - r.window.Nanoseconds()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	result, err := slidingWindow.Run(ctx, r.client, []string{"ratelimit:webhook:" + key},
		now, windowStart, r.limit, r.window.Milliseconds(), member).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := result == 1
	if !allowed {
		metrics.RateLimitHits.Inc()
	}
	return allowed, nil
}

func (r *redisRateLimiter) Close() error {
	return r.client.Close()
}

// NoOpRateLimiter admits everything. Used when rate limiting is disabled.
type NoOpRateLimiter struct{}

func (NoOpRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoOpRateLimiter) Close() error { return nil }
