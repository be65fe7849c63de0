package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iliyamo/phone-signin/internal/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_DeniesPastLimitAndRecoversAfterWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	lim := ratelimit.NewMemory(ratelimit.Limits{Phone: 3, Addr: 10}, ratelimit.WithClock(clock.Now))
	key := ratelimit.PhoneKey("+971500000000")

	for i := 0; i < 3; i++ {
		assert.True(t, lim.Allow(ctx, key), "call %d", i+1)
		clock.Advance(time.Minute)
	}
	assert.False(t, lim.Allow(ctx, key), "4th call within the hour must be denied")

	// Denied calls are not recorded: the earliest attempt is still the first.
	clock.Advance(time.Hour - 3*time.Minute + time.Second)
	assert.True(t, lim.Allow(ctx, key), "first attempt has left the window")
	assert.False(t, lim.Allow(ctx, key))
}

func TestMemory_ScopesHaveIndependentBudgets(t *testing.T) {
	ctx := context.Background()
	lim := ratelimit.NewMemory(ratelimit.Limits{Phone: 1, Addr: 2})

	assert.True(t, lim.Allow(ctx, ratelimit.PhoneKey("+10000000000")))
	assert.False(t, lim.Allow(ctx, ratelimit.PhoneKey("+10000000000")))
	assert.True(t, lim.Allow(ctx, ratelimit.PhoneKey("+10000000001")))

	assert.True(t, lim.Allow(ctx, ratelimit.AddrKey("10.0.0.1")))
	assert.True(t, lim.Allow(ctx, ratelimit.AddrKey("10.0.0.1")))
	assert.False(t, lim.Allow(ctx, ratelimit.AddrKey("10.0.0.1")))
}

func TestMemory_Reset(t *testing.T) {
	ctx := context.Background()
	lim := ratelimit.NewMemory(ratelimit.Limits{Phone: 1, Addr: 1})
	key := ratelimit.AddrKey("192.0.2.7")

	require.True(t, lim.Allow(ctx, key))
	require.False(t, lim.Allow(ctx, key))
	require.NoError(t, lim.Reset(ctx, key))
	assert.True(t, lim.Allow(ctx, key))
}

func TestMemory_ConcurrentCallersNeverOverAdmit(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	lim := ratelimit.NewMemory(ratelimit.Limits{Phone: 5, Addr: 5})
	key := ratelimit.PhoneKey("+971501234567")

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lim.Allow(ctx, key) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted.Load())
}

func TestLimits_For(t *testing.T) {
	l := ratelimit.Limits{Phone: 5, Addr: 10}
	assert.Equal(t, 5, l.For(ratelimit.PhoneKey("+1")))
	assert.Equal(t, 10, l.For(ratelimit.AddrKey("::1")))
}
