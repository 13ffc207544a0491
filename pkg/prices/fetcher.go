package prices

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wattrelay/wattrelay/pkg/audit"
	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/retry"
	"github.com/wattrelay/wattrelay/pkg/storage"
	"github.com/wattrelay/wattrelay/pkg/types"
)

// freshnessHorizon is how far ahead stored prices must reach before a fetch
// is considered unnecessary. Day-ahead data publishes around 13:00 CET, so
// half a day of headroom keeps the fetch cheap between publications.
const freshnessHorizon = 12 * time.Hour

// minPointsForAssignment guards against acting on a partial day of data. A
// full hourly day is 24 points; anything at or below that means the next
// day's prices have not landed yet.
const minPointsForAssignment = 24

// Assigner triggers an assignment pass after new prices land.
type Assigner interface {
	AssignAll(ctx context.Context) error
}

// DeviceReconciler drives relays toward the stored assignments.
type DeviceReconciler interface {
	Reconcile(ctx context.Context) error
}

// Fetcher pulls day-ahead prices from the provider and persists them,
// chaining an assignment and reconcile pass when a full new day arrives.
type Fetcher struct {
	db         storage.Database
	provider   Provider
	audit      *audit.Logger
	assigner   Assigner
	reconciler DeviceReconciler
	loc        *time.Location
	now        func() time.Time
}

// NewFetcher returns a Fetcher. assigner and reconciler may be nil, in which
// case new prices are stored but nothing is chained.
func NewFetcher(db storage.Database, provider Provider, aud *audit.Logger,
	assigner Assigner, reconciler DeviceReconciler, loc *time.Location) *Fetcher {
	return &Fetcher{
		db:         db,
		provider:   provider,
		audit:      aud,
		assigner:   assigner,
		reconciler: reconciler,
		loc:        loc,
		now:        time.Now,
	}
}

// Run fetches prices if the stored data does not already reach far enough
// into the future. It never overwrites buckets that have fully elapsed.
func (f *Fetcher) Run(ctx context.Context) error {
	now := f.now()

	fresh, err := f.db.HasPriceBucketsAfter(ctx, now.Add(freshnessHorizon))
	if err != nil {
		return fmt.Errorf("failed to check price freshness: %w", err)
	}
	if fresh {
		log.Ctx(ctx).DebugContext(ctx, "price data is fresh, skipping fetch")
		return nil
	}

	token, err := f.db.GetSetting(ctx, types.SettingPriceAPIKey, types.SettingPriceAPIKeyDefault)
	if err != nil {
		return fmt.Errorf("failed to load API key setting: %w", err)
	}

	// request from local midnight today through two days out; the provider
	// returns whatever part of that it has published
	year, month, day := now.In(f.loc).Date()
	windowStart := time.Date(year, month, day, 0, 0, 0, 0, f.loc)
	windowEnd := windowStart.AddDate(0, 0, 2)

	buckets, err := f.provider.DayAhead(ctx, token, windowStart, windowEnd)
	if err != nil {
		f.audit.System(ctx, types.SeverityError, fmt.Sprintf("price fetch failed: %v", err))
		return fmt.Errorf("price fetch failed: %w", err)
	}

	var stored int
	err = retry.Do(ctx, retry.DefaultPolicy, storage.IsContention, func(ctx context.Context) error {
		stored = 0
		for _, b := range buckets {
			// elapsed buckets are immutable history
			if !b.TSEnd.After(now) {
				continue
			}
			if err := f.db.UpsertPriceBucket(ctx, b); err != nil {
				return fmt.Errorf("failed to store bucket %s: %w", b.ID, err)
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Ctx(ctx).InfoContext(ctx, "fetched day-ahead prices",
		slog.Int("points", len(buckets)),
		slog.Int("stored", stored),
		slog.Time("windowStart", windowStart),
		slog.Time("windowEnd", windowEnd),
	)

	if len(buckets) <= minPointsForAssignment {
		f.audit.System(ctx, types.SeverityWarning,
			fmt.Sprintf("only %d price points available, deferring assignment", len(buckets)))
		return nil
	}

	if f.assigner != nil {
		if err := f.assigner.AssignAll(ctx); err != nil {
			return fmt.Errorf("chained assignment failed: %w", err)
		}
	}
	if f.reconciler != nil {
		if err := f.reconciler.Reconcile(ctx); err != nil {
			return fmt.Errorf("chained reconcile failed: %w", err)
		}
	}
	return nil
}
