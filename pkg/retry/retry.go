// Package retry provides a bounded retry helper for transient failures.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/wattrelay/wattrelay/pkg/log"
)

// Policy controls how often and how fast an operation is retried. Delay
// doubles after each failed attempt.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPolicy matches the storage contention behavior: 3 attempts with an
// initial 1s delay.
var DefaultPolicy = Policy{Attempts: 3, Delay: time.Second}

// Do runs op, retrying while retryable reports the returned error as
// transient. The last error is returned once attempts are exhausted. A nil
// retryable retries every error.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var err error
	delay := p.Delay
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}

		log.Ctx(ctx).WarnContext(ctx, "retrying after transient error",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
