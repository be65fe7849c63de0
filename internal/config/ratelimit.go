package config

import (
    "strings"
    "time"
)

// OTPLimits are the hourly abuse-control budgets for code requests. Each
// scope has its own budget; Backend selects where the buckets live.
type OTPLimits struct {
    PhoneHourly int
    AddrHourly  int
    Backend     string // memory or redis
}

func LoadOTPLimits() OTPLimits {
    return OTPLimits{
        PhoneHourly: envInt("RATE_LIMIT_PHONE_HOURLY", 5),
        AddrHourly:  envInt("RATE_LIMIT_ADDR_HOURLY", envInt("RATE_LIMIT_IP_HOURLY", 10)),
        Backend:     strings.ToLower(envStr("RATE_LIMIT_BACKEND", "memory")),
    }
}

// RateLimitConfig drives the request throttle in front of /v1/auth. A bucket
// holds Burst tokens and regains one every RefillEvery.
//
//   RATE_LIMIT_ENABLED       – throttle on/off (true)
//   RATE_LIMIT_BURST         – bucket size (30; RATE_LIMIT_CAPACITY is accepted too)
//   RATE_LIMIT_REFILL_EVERY  – time to regain one token (2s)
//   RATE_LIMIT_KEY_STRATEGY  – ip, route or ip_route (ip_route)
//   RATE_LIMIT_PREFIX        – redis key prefix (rl)
type RateLimitConfig struct {
    Enabled     bool
    Burst       int
    RefillEvery time.Duration
    KeyStrategy string
    Prefix      string
}

func LoadRateLimitConfig() RateLimitConfig {
    cfg := RateLimitConfig{
        Enabled:     envBool("RATE_LIMIT_ENABLED", true),
        Burst:       envInt("RATE_LIMIT_BURST", envInt("RATE_LIMIT_CAPACITY", 30)),
        RefillEvery: envDur("RATE_LIMIT_REFILL_EVERY", 2*time.Second),
        KeyStrategy: strings.ToLower(envStr("RATE_LIMIT_KEY_STRATEGY", "ip_route")),
        Prefix:      envStr("RATE_LIMIT_PREFIX", "rl"),
    }
    if cfg.Burst < 1 {
        cfg.Burst = 1
    }
    if cfg.RefillEvery <= 0 {
        cfg.RefillEvery = time.Second
    }
    return cfg
}

// IdleTTL is how long an untouched bucket is kept: long enough to refill
// completely, plus slack.
func (c RateLimitConfig) IdleTTL() time.Duration {
    return time.Duration(c.Burst+5) * c.RefillEvery
}
