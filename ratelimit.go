package ledgerauth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultRateWindow  = 15 * time.Minute
)

// RateLimiter counts failed attempts per identifier (usually a client IP)
// over a sliding window: an identifier is limited while at least MaxAttempts
// of its attempts are younger than Window. Timestamps are pruned per
// identifier whenever that identifier is checked.
type RateLimiter struct {
	mutex    sync.Mutex
	attempts map[string][]time.Time

	limit  int
	window time.Duration
	now    func() time.Time
}

type RateLimiterOption func(*RateLimiter)

func WithMaxAttempts(n int) RateLimiterOption {
	return func(rl *RateLimiter) {
		if n > 0 {
			rl.limit = n
		}
	}
}

func WithWindow(d time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		if d > 0 {
			rl.window = d
		}
	}
}

func WithRateClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		if now != nil {
			rl.now = now
		}
	}
}

func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		attempts: make(map[string][]time.Time),
		limit:    DefaultMaxAttempts,
		window:   DefaultRateWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// IsRateLimited reports whether identifier reached the attempt limit within
// the trailing window.
func (rl *RateLimiter) IsRateLimited(identifier string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	return len(rl.pruneLocked(identifier, rl.now())) >= rl.limit
}

// RecordAttempt records one failed attempt for identifier.
func (rl *RateLimiter) RecordAttempt(identifier string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.attempts[identifier] = append(rl.attempts[identifier], rl.now())
}

// Reset forgets all attempts of identifier, e.g. after a successful login.
func (rl *RateLimiter) Reset(identifier string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	delete(rl.attempts, identifier)
}

// RetryAfter returns how long until identifier drops below the limit, or zero
// if it is not limited.
func (rl *RateLimiter) RetryAfter(identifier string) time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	kept := rl.pruneLocked(identifier, now)
	if len(kept) < rl.limit {
		return 0
	}
	// The attempt whose expiry brings the count below the limit.
	pivot := kept[len(kept)-rl.limit]
	return pivot.Add(rl.window).Sub(now)
}

// Prune drops identifiers whose attempts all left the window and returns how
// many were dropped.
func (rl *RateLimiter) Prune() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for id := range rl.attempts {
		if len(rl.pruneLocked(id, now)) == 0 {
			removed++
		}
	}
	return removed
}

// Run prunes idle identifiers every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: prune interval must be > 0, got %v", ErrInvalidConfig, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.Prune()
		}
	}
}

func (rl *RateLimiter) pruneLocked(identifier string, now time.Time) []time.Time {
	list, ok := rl.attempts[identifier]
	if !ok {
		return nil
	}

	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(list) && !list[i].After(cutoff) {
		i++
	}
	list = list[i:]

	if len(list) == 0 {
		delete(rl.attempts, identifier)
		return nil
	}
	rl.attempts[identifier] = list
	return list
}
