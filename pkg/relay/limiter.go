package relay

import (
	"context"
	"sync"
	"time"
)

// defaultInterval clears the provider's stated 1 rps cap with margin.
const defaultInterval = 1100 * time.Millisecond

// Limiter spaces requests per (server, auth key) bucket. Devices sharing a
// cloud endpoint and key serialize through one bucket; independent pairs run
// unthrottled relative to each other.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     map[string]time.Time
}

// NewLimiter returns a limiter with the default spacing.
func NewLimiter() *Limiter {
	return NewLimiterWithInterval(defaultInterval)
}

// NewLimiterWithInterval returns a limiter with a custom spacing, used by
// tests to avoid real sleeps.
func NewLimiterWithInterval(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		next:     make(map[string]time.Time),
	}
}

// Wait blocks until the bucket allows another request. The slot is reserved
// under the lock so concurrent waiters queue instead of stampeding.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	now := time.Now()
	at := l.next[key]
	if at.Before(now) {
		at = now
	}
	l.next[key] = at.Add(l.interval)
	l.mu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
