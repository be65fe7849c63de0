package middleware

import (
    "context"
    "errors"
    "log/slog"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/phone-signin/internal/config"
)

// takeScript refills a bucket by whole elapsed intervals, then tries to take
// one token. State lives in a hash {tokens, stamp}; stamp only advances by
// the intervals actually credited so partial progress is not lost.
//
// KEYS[1] bucket; ARGV: now_ms, burst, every_ms, ttl_ms
// Returns {allowed (0|1), tokens left, ms until next token}.
var takeScript = redis.NewScript(`
local now   = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local every = tonumber(ARGV[3])
local ttl   = tonumber(ARGV[4])

local state  = redis.call('HMGET', KEYS[1], 'tokens', 'stamp')
local tokens = tonumber(state[1])
local stamp  = tonumber(state[2])
if tokens == nil or stamp == nil then
    tokens = burst
    stamp  = now
end

local credited = math.floor((now - stamp) / every)
if credited > 0 then
    tokens = math.min(burst, tokens + credited)
    stamp  = stamp + credited * every
end
if tokens >= burst then
    stamp = now
end

local allowed = 0
if tokens > 0 then
    tokens  = tokens - 1
    allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'stamp', stamp)
redis.call('PEXPIRE', KEYS[1], ttl)

local wait = 0
if tokens == 0 then
    wait = math.max(0, every - (now - stamp))
end
return {allowed, tokens, wait}
`)

var errBadReply = errors.New("ratelimit: unexpected script reply")

// Decision is the outcome of one Take.
type Decision struct {
    Allowed    bool
    Remaining  int64
    RetryAfter time.Duration // until the next token; zero while tokens remain
}

// TokenBucket is a token bucket shared by every replica through Redis.
type TokenBucket struct {
    rdb *redis.Client
    cfg config.RateLimitConfig
}

func NewBucket(cfg config.RateLimitConfig, rdb *redis.Client) *TokenBucket {
    return &TokenBucket{rdb: rdb, cfg: cfg}
}

// Take spends one token from key's bucket.
func (b *TokenBucket) Take(ctx context.Context, key string, now time.Time) (Decision, error) {
    res, err := takeScript.Run(ctx, b.rdb, []string{b.cfg.Prefix + ":" + key},
        now.UnixMilli(), b.cfg.Burst, b.cfg.RefillEvery.Milliseconds(), b.cfg.IdleTTL().Milliseconds(),
    ).Int64Slice()
    if err != nil {
        return Decision{}, err
    }
    if len(res) != 3 {
        return Decision{}, errBadReply
    }
    return Decision{
        Allowed:    res[0] == 1,
        Remaining:  res[1],
        RetryAfter: time.Duration(res[2]) * time.Millisecond,
    }, nil
}

// NewTokenBucket throttles requests per key (see RateLimitConfig.KeyStrategy).
// It is a coarse front-door guard; the hourly per-phone and per-address code
// budgets are enforced by the session engine. Redis errors fail open.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    bucket := NewBucket(cfg, rdb)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := rateKey(cfg.KeyStrategy, c)
            d, err := bucket.Take(c.Request().Context(), key, time.Now())
            if err != nil {
                slog.Warn("ratelimit.bucket.redis_fail", "key", key, "error", err)
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
            if d.Allowed {
                return next(c)
            }

            secs := int((d.RetryAfter + time.Second - 1) / time.Second)
            h.Set("Retry-After", strconv.Itoa(secs))
            slog.Info("ratelimit.bucket.block", "key", key, "retry_after", secs)
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":       "rate_limited",
                "retry_after": secs,
            })
        }
    }
}

// rateKey names the bucket for c. Sign-in routes are unauthenticated, so
// keys are built from the caller address and the route only.
func rateKey(strategy string, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    route := c.Request().Method + " " + c.Path()

    switch strings.ToLower(strategy) {
    case "ip":
        return "ip:" + ip
    case "route":
        return "route:" + route
    default:
        return "ip:" + ip + ":route:" + route
    }
}
