// Package ratelimit implements the hourly abuse control applied to code
// requests. Buckets are keyed by scope ("phone:<number>" or "addr:<address>")
// and each scope carries its own hourly budget.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Window is the sliding window every bucket is evaluated over.
const Window = time.Hour

const (
	phonePrefix = "phone:"
	addrPrefix  = "addr:"
)

// Limiter gates code requests. Allow records an attempt and reports whether
// it fits the key's budget; a denied call records nothing. Reset clears a
// bucket and is meant for ops tooling only.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
	Reset(ctx context.Context, key string) error
}

// Limits holds the per-scope hourly budgets.
type Limits struct {
	Phone int
	Addr  int
}

// For returns the budget that applies to key.
func (l Limits) For(key string) int {
	if strings.HasPrefix(key, phonePrefix) {
		return l.Phone
	}
	return l.Addr
}

// PhoneKey builds the bucket key for a phone number.
func PhoneKey(phone string) string { return phonePrefix + phone }

// AddrKey builds the bucket key for a caller address.
func AddrKey(addr string) string { return addrPrefix + addr }
