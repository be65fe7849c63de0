package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the sorted set to the window, then admits the
// call only when the surviving count is below the limit. Running it as one
// script keeps check-and-append atomic across instances.
var slidingWindowScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local window_ms = tonumber(ARGV[2])
    local limit = tonumber(ARGV[3])
    local member = ARGV[4]

    redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now_ms - window_ms))
    local count = redis.call('ZCARD', key)
    if count >= limit then
        return 0
    end

    redis.call('ZADD', key, now_ms, member)
    redis.call('PEXPIRE', key, window_ms)
    return 1
`)

// Redis is a Limiter whose buckets live in a shared Redis instance, so every
// replica sees the same budgets. While Redis is unreachable, decisions come
// from a process-local Memory limiter with the same limits.
type Redis struct {
	rdb      *redis.Client
	limits   Limits
	prefix   string
	log      *slog.Logger
	now      func() time.Time
	fallback *Memory
}

// NewRedis returns a Redis-backed limiter. prefix namespaces the keys.
func NewRedis(rdb *redis.Client, limits Limits, prefix string, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = "otp-rl"
	}
	return &Redis{
		rdb:      rdb,
		limits:   limits,
		prefix:   prefix,
		log:      log,
		now:      time.Now,
		fallback: NewMemory(limits),
	}
}

func (r *Redis) redisKey(key string) string { return r.prefix + ":" + key }

// Allow runs the sliding-window script. On a Redis failure the call is
// judged by the in-process fallback, so an outage never lifts the budgets.
func (r *Redis) Allow(ctx context.Context, key string) bool {
	now := r.now()
	res, err := slidingWindowScript.Run(ctx, r.rdb, []string{r.redisKey(key)},
		now.UnixMilli(),
		Window.Milliseconds(),
		r.limits.For(key),
		fmt.Sprintf("%d-%s", now.UnixNano(), ulid.Make().String()),
	).Int64()
	if err != nil {
		r.log.Warn("ratelimit.redis.fallback", "key", key, "err", err)
		return r.fallback.Allow(ctx, key)
	}
	return res == 1
}

// Reset deletes the key's sorted set and its fallback bucket.
func (r *Redis) Reset(ctx context.Context, key string) error {
	_ = r.fallback.Reset(ctx, key)
	return r.rdb.Del(ctx, r.redisKey(key)).Err()
}
