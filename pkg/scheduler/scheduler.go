// Package scheduler runs the periodic automation jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/storage"
)

// Job schedules. Fetch runs twice near the top of the hour because the
// upstream occasionally publishes late; the freshness check makes the second
// attempt free when the first succeeded. Override fires a minute before each
// hour so the thermostat decision lands before the period-boundary reconcile.
const (
	fetchSpec     = "0,3 * * * *"
	assignSpec    = "5 * * * *"
	overrideSpec  = "59 * * * *"
	reconcileSpec = "0,15,30,45 * * * *"
)

// Jobs holds the entry points the scheduler drives.
type Jobs struct {
	FetchPrices func(ctx context.Context) error
	Assign      func(ctx context.Context) error
	Override    func(ctx context.Context) error
	Reconcile   func(ctx context.Context) error
}

// Scheduler owns the cron runner. Overlapping invocations of the same job are
// skipped rather than queued, and panics inside jobs are recovered.
type Scheduler struct {
	db   storage.Database
	cron *cron.Cron
	jobs Jobs
}

// New returns a Scheduler.
func New(db storage.Database, jobs Jobs) *Scheduler {
	logger := &cronLogger{}
	return &Scheduler{
		db: db,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		)),
		jobs: jobs,
	}
}

// Run registers all jobs, starts the cron loop, and blocks until ctx is
// canceled. Jobs already in flight are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	type entry struct {
		name string
		spec string
		fn   func(ctx context.Context) error
	}
	for _, e := range []entry{
		{"fetch-prices", fetchSpec, s.jobs.FetchPrices},
		{"assign", assignSpec, s.jobs.Assign},
		{"thermostat-override", overrideSpec, s.jobs.Override},
		{"reconcile", reconcileSpec, s.jobs.Reconcile},
	} {
		if e.fn == nil {
			continue
		}
		e := e
		if _, err := s.cron.AddFunc(e.spec, func() {
			s.runJob(ctx, e.name, e.fn)
		}); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", e.name, err)
		}
	}

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// runJob checks storage readiness and runs one job invocation. An unready
// store skips the run quietly; the next tick will try again.
func (s *Scheduler) runJob(ctx context.Context, name string, fn func(ctx context.Context) error) {
	logger := log.Ctx(ctx)
	if err := s.db.Ready(ctx); err != nil {
		logger.DebugContext(ctx, "storage not ready, skipping job",
			slog.String("job", name), slog.Any("error", err))
		return
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		logger.ErrorContext(ctx, "job failed",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
			slog.Any("error", err),
		)
		return
	}
	logger.DebugContext(ctx, "job finished",
		slog.String("job", name),
		slog.Duration("took", time.Since(start)),
	)
}

// cronLogger adapts the process logger to cron's logging interface.
type cronLogger struct{}

var _ cron.Logger = (*cronLogger)(nil)

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Default().Info(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Default().Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
