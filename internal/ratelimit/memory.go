package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery controls how often Allow prunes idle buckets.
const sweepEvery = 1024

// Memory is the process-local sliding-window limiter. Buckets live for the
// lifetime of the process and are not shared between instances.
type Memory struct {
	mu      sync.Mutex
	limits  Limits
	buckets map[string][]time.Time
	now     func() time.Time
	calls   int
}

// MemoryOption customizes a Memory limiter.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory returns an empty in-process limiter.
func NewMemory(limits Limits, opts ...MemoryOption) *Memory {
	m := &Memory{
		limits:  limits,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow prunes the key's bucket and admits the call if the surviving count is
// below the key's budget. The check and the append happen under one lock.
func (m *Memory) Allow(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweepLocked(now)
	}

	bucket := prune(m.buckets[key], now)
	if len(bucket) >= m.limits.For(key) {
		m.buckets[key] = bucket
		return false
	}
	m.buckets[key] = append(bucket, now)
	return true
}

// Reset drops the key's bucket.
func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.buckets, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) sweepLocked(now time.Time) {
	for k, b := range m.buckets {
		if b = prune(b, now); len(b) == 0 {
			delete(m.buckets, k)
		} else {
			m.buckets[k] = b
		}
	}
}

// prune keeps the timestamps no older than Window. Timestamps are appended in
// order, so the survivors are a suffix.
func prune(ts []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) > Window {
		i++
	}
	if i == 0 {
		return ts
	}
	out := make([]time.Time, len(ts)-i)
	copy(out, ts[i:])
	return out
}
