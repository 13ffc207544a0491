// Package reconciler drives relay outputs toward the stored assignments for
// the current 15-minute period.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wattrelay/wattrelay/pkg/audit"
	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/relay"
	"github.com/wattrelay/wattrelay/pkg/retry"
	"github.com/wattrelay/wattrelay/pkg/storage"
	"github.com/wattrelay/wattrelay/pkg/types"
)

const (
	// maxConcurrentGroups caps how many credential groups are reconciled in
	// parallel. Devices sharing a (server, auth key) pair always run in the
	// same group so the per-credential rate limit is never contended from
	// two goroutines.
	maxConcurrentGroups = 5

	// groupStagger spaces group launches so the cloud API never sees a
	// thundering herd at the period boundary.
	groupStagger = time.Second

	// recentCommandWindow suppresses a repeat command if we already sent the
	// same one within this window. Covers overlapping runs and the chained
	// reconcile after a fetch.
	recentCommandWindow = 60 * time.Second
)

const (
	msgTurnedOn  = "Device turned ON"
	msgTurnedOff = "Device turned OFF"
)

// Reconciler compares each automation-enabled device's relay state with its
// assignments and issues the minimal set of switch commands.
type Reconciler struct {
	db      storage.Database
	relay   relay.Client
	audit   *audit.Logger
	stagger time.Duration
	retry   retry.Policy
	now     func() time.Time
}

// New returns a Reconciler.
func New(db storage.Database, client relay.Client, aud *audit.Logger) *Reconciler {
	return &Reconciler{
		db:      db,
		relay:   client,
		audit:   aud,
		stagger: groupStagger,
		retry:   retry.DefaultPolicy,
		now:     time.Now,
	}
}

// Reconcile runs one pass over all automation-enabled devices. Per-device
// failures are audited and skipped; the pass itself only fails on storage
// errors or context cancellation. Transient storage contention retries the
// whole pass.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	return retry.Do(ctx, r.retry, storage.IsContention, r.reconcile)
}

func (r *Reconciler) reconcile(ctx context.Context) error {
	now := r.now()
	periodStart := now.UTC().Truncate(15 * time.Minute)
	periodEnd := periodStart.Add(15 * time.Minute)

	devices, err := r.db.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	groups := make(map[string][]types.Device)
	for _, d := range devices {
		if !d.AutomationEnabled {
			continue
		}
		key := d.CredentialKey()
		groups[key] = append(groups[key], d)
	}
	if len(groups) == 0 {
		return nil
	}

	// an hourly bucket covering this quarter can start up to 45m earlier
	buckets, err := r.db.PriceBucketsInRange(ctx, periodStart.Add(-45*time.Minute), periodEnd)
	if err != nil {
		return fmt.Errorf("failed to load price buckets: %w", err)
	}
	bucketIDs := types.BucketIDsCovering(buckets, periodStart, periodEnd)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentGroups)
	first := true
	for _, group := range groups {
		if !first {
			select {
			case <-time.After(r.stagger):
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		first = false

		group := group
		g.Go(func() error {
			for _, d := range group {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := r.reconcileDevice(gctx, d, bucketIDs, now); err != nil {
					r.audit.Device(gctx, d.ID, types.SeverityError,
						fmt.Sprintf("reconcile failed: %v", err))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Ctx(ctx).InfoContext(ctx, "reconcile pass finished",
		slog.Int("groups", len(groups)),
		slog.Time("periodStart", periodStart),
	)
	return nil
}

func (r *Reconciler) reconcileDevice(ctx context.Context, d types.Device, bucketIDs []string, now time.Time) error {
	desired, err := r.db.HasAssignmentForBuckets(ctx, d.ID, bucketIDs)
	if err != nil {
		return fmt.Errorf("failed to check assignments: %w", err)
	}

	if r.recentlyCommanded(ctx, d, desired, now) {
		log.Ctx(ctx).DebugContext(ctx, "command already sent recently, skipping",
			slog.String("deviceID", d.ID))
		return nil
	}

	status, err := r.relay.Status(ctx, d)
	if err != nil {
		r.audit.Device(ctx, d.ID, types.SeverityError,
			fmt.Sprintf("status check failed: %v", err))
		return nil
	}
	if !status.Online {
		r.audit.Device(ctx, d.ID, types.SeverityWarning, "device is offline, skipping")
		return nil
	}
	if status.Output == desired {
		return nil
	}

	res, err := r.relay.SetOutput(ctx, d, desired)
	if err != nil {
		return fmt.Errorf("failed to switch relay: %w", err)
	}
	if res.Blocked {
		r.audit.Device(ctx, d.ID, types.SeverityInfo, "relay write blocked by debug setting")
		return nil
	}
	if desired {
		r.audit.Device(ctx, d.ID, types.SeverityInfo, msgTurnedOn)
	} else {
		r.audit.Device(ctx, d.ID, types.SeverityInfo, msgTurnedOff)
	}
	return nil
}

// recentlyCommanded reports whether the latest audit entry for the device is
// the same switch command inside the suppression window.
func (r *Reconciler) recentlyCommanded(ctx context.Context, d types.Device, desired bool, now time.Time) bool {
	entry, err := r.db.LatestDeviceLog(ctx, d.ID)
	if err != nil || entry == nil {
		return false
	}
	if now.Sub(entry.CreatedAt) > recentCommandWindow {
		return false
	}
	want := msgTurnedOff
	if desired {
		want = msgTurnedOn
	}
	return strings.HasPrefix(entry.Message, want)
}
