package ledgerauth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minus-twelve/ledgerauth"
)

func TestRateLimiterThreshold(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rl := ledgerauth.NewRateLimiter(ledgerauth.WithRateClock(clock.Now))

	for i := 0; i < ledgerauth.DefaultMaxAttempts-1; i++ {
		rl.RecordAttempt("198.51.100.7")
		assert.False(t, rl.IsRateLimited("198.51.100.7"))
	}
	rl.RecordAttempt("198.51.100.7")
	assert.True(t, rl.IsRateLimited("198.51.100.7"))
	assert.False(t, rl.IsRateLimited("198.51.100.8"), "identifiers are independent")

	clock.Advance(ledgerauth.DefaultRateWindow)
	assert.False(t, rl.IsRateLimited("198.51.100.7"), "the window elapsed")
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rl := ledgerauth.NewRateLimiter(
		ledgerauth.WithRateClock(clock.Now),
		ledgerauth.WithMaxAttempts(3),
		ledgerauth.WithWindow(10*time.Minute),
	)

	rl.RecordAttempt("ip")
	clock.Advance(4 * time.Minute)
	rl.RecordAttempt("ip")
	clock.Advance(4 * time.Minute)
	rl.RecordAttempt("ip")
	require.True(t, rl.IsRateLimited("ip"))
	assert.Equal(t, 2*time.Minute, rl.RetryAfter("ip"))

	// The first attempt leaves the window, the other two still count.
	clock.Advance(2 * time.Minute)
	assert.False(t, rl.IsRateLimited("ip"))
	assert.Zero(t, rl.RetryAfter("ip"))

	rl.RecordAttempt("ip")
	assert.True(t, rl.IsRateLimited("ip"))
}

func TestRateLimiterReset(t *testing.T) {
	t.Parallel()

	rl := ledgerauth.NewRateLimiter(ledgerauth.WithMaxAttempts(1))
	rl.RecordAttempt("ip")
	require.True(t, rl.IsRateLimited("ip"))

	rl.Reset("ip")
	assert.False(t, rl.IsRateLimited("ip"))
}

func TestRateLimiterPrune(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rl := ledgerauth.NewRateLimiter(ledgerauth.WithRateClock(clock.Now), ledgerauth.WithWindow(time.Minute))

	rl.RecordAttempt("a")
	rl.RecordAttempt("b")
	clock.Advance(30 * time.Second)
	rl.RecordAttempt("b")
	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, rl.Prune())
	assert.Zero(t, rl.Prune())
}

func TestRateLimiterConcurrentUse(t *testing.T) {
	t.Parallel()

	rl := ledgerauth.NewRateLimiter(ledgerauth.WithMaxAttempts(1000))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				rl.RecordAttempt("shared")
				rl.IsRateLimited("shared")
			}
		}()
	}
	wg.Wait()

	assert.True(t, rl.IsRateLimited("shared"))
}

func TestRateLimiterRun(t *testing.T) {
	t.Parallel()

	rl := ledgerauth.NewRateLimiter()
	assert.ErrorIs(t, rl.Run(context.Background(), 0), ledgerauth.ErrInvalidConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, rl.Run(ctx, time.Millisecond))
}
