package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wattrelay/wattrelay/pkg/assignment"
	"github.com/wattrelay/wattrelay/pkg/audit"
	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/notify"
	"github.com/wattrelay/wattrelay/pkg/prices"
	"github.com/wattrelay/wattrelay/pkg/reconciler"
	"github.com/wattrelay/wattrelay/pkg/relay"
	"github.com/wattrelay/wattrelay/pkg/scheduler"
	"github.com/wattrelay/wattrelay/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	s := storage.Configured()
	mq := notify.Configured()
	provider := prices.ConfiguredENTSOE()
	aud := audit.New(s, mq)
	mgr := assignment.Configured(s, aud)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		mq.Close()
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	client := relay.New(s, relay.NewLimiter())
	rec := reconciler.New(s, client, aud)
	fetcher := prices.NewFetcher(s, provider, aud, mgr, rec, mgr.Location())

	sched := scheduler.New(s, scheduler.Jobs{
		FetchPrices: fetcher.Run,
		Assign:      mgr.AssignAll,
		Override:    mgr.ApplyNextPeriodAssignments,
		Reconcile:   rec.Reconcile,
	})

	// Run will block until context is canceled
	if err := sched.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "scheduler failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "scheduler exited cleanly")
}
