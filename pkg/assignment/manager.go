// Package assignment turns cheapest-window selections into persisted
// run-intent assignments and applies thermostat-driven overrides.
package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattrelay/wattrelay/pkg/audit"
	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/retry"
	"github.com/wattrelay/wattrelay/pkg/selector"
	"github.com/wattrelay/wattrelay/pkg/storage"
	"github.com/wattrelay/wattrelay/pkg/types"
)

// Manager orchestrates the per-device selection and assignment persistence.
type Manager struct {
	db    storage.Database
	audit *audit.Logger
	loc   *time.Location
	now   func() time.Time
}

// Configured sets up the Manager based on flags.
func Configured(db storage.Database, aud *audit.Logger) *Manager {
	tz := lflag.String("local-timezone", "Europe/Helsinki", "Timezone for day/night transfer classification")

	m := &Manager{
		db:    db,
		audit: aud,
		now:   time.Now,
	}

	lflag.Do(func() {
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			panic(fmt.Sprintf("failed to load timezone %s: %v", *tz, err))
		}
		m.loc = loc
	})

	return m
}

// New returns a Manager with an explicit location, used by tests and the
// seed tooling.
func New(db storage.Database, aud *audit.Logger, loc *time.Location) *Manager {
	return &Manager{
		db:    db,
		audit: aud,
		loc:   loc,
		now:   time.Now,
	}
}

// Location returns the configured local timezone.
func (m *Manager) Location() *time.Location {
	return m.loc
}

// AssignAll computes and persists cheapest-window assignments for every
// device. It is idempotent: a second run over unchanged data creates
// nothing. Transient storage contention retries the whole pass.
func (m *Manager) AssignAll(ctx context.Context) error {
	return retry.Do(ctx, retry.DefaultPolicy, storage.IsContention, m.assignAll)
}

func (m *Manager) assignAll(ctx context.Context) error {
	now := m.now()

	buckets, err := m.db.FuturePriceBuckets(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to load future price buckets: %w", err)
	}
	if len(buckets) == 0 {
		log.Ctx(ctx).InfoContext(ctx, "no future price buckets, skipping assignment")
		return nil
	}

	resolution := types.DetectResolution(buckets)
	if resolution == types.ResolutionUnknown {
		log.Ctx(ctx).WarnContext(ctx, "could not detect price resolution, assuming hourly")
		resolution = types.ResolutionHourly
	}

	// match selections back to buckets on minute-truncated starts to guard
	// against sub-minute jitter
	byMinute := make(map[int64]types.PriceBucket, len(buckets))
	for _, b := range buckets {
		byMinute[b.TSStart.Truncate(time.Minute).Unix()] = b
	}

	// the deterministic assignment ID is the authoritative duplicate guard;
	// this 24h prefetch just avoids pointless insert attempts
	existing, err := m.db.AssignmentsInRange(ctx, now, now.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to load existing assignments: %w", err)
	}
	assigned := make(map[string]bool, len(existing))
	for _, a := range existing {
		assigned[a.DeviceID+"\x00"+a.BucketID] = true
	}

	devices, err := m.db.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	var created int
	for _, d := range devices {
		n, err := m.assignDevice(ctx, d, buckets, byMinute, assigned, resolution)
		if err != nil {
			// one bad device never aborts the batch
			m.audit.Device(ctx, d.ID, types.SeverityError,
				fmt.Sprintf("assignment failed: %v", err))
			continue
		}
		created += n
	}

	log.Ctx(ctx).InfoContext(ctx, "assignment pass finished",
		slog.Int("devices", len(devices)),
		slog.Int("created", created),
		slog.String("resolution", resolution.String()),
	)
	return nil
}

func (m *Manager) assignDevice(ctx context.Context, d types.Device, buckets []types.PriceBucket,
	byMinute map[int64]types.PriceBucket, assigned map[string]bool, resolution types.Resolution) (int, error) {

	if d.RunHoursPerDay <= 0 {
		return 0, nil
	}

	periodsNeeded := d.RunHoursPerDay * resolution.BucketsPerHour()
	starts := selector.CheapestWindows(buckets, d.DayTransferCents, d.NightTransferCents, periodsNeeded, m.loc)

	var created int
	for _, start := range starts {
		b, ok := byMinute[start.Truncate(time.Minute).Unix()]
		if !ok {
			m.audit.Device(ctx, d.ID, types.SeverityWarning,
				fmt.Sprintf("no price bucket found for selected window %s", start.UTC().Format(time.RFC3339)))
			continue
		}
		if assigned[d.ID+"\x00"+b.ID] {
			continue
		}

		ok, err := m.db.CreateAssignment(ctx, types.Assignment{
			ID:          types.AssignmentID(d.Owner, d.ID, b.ID),
			Owner:       d.Owner,
			DeviceID:    d.ID,
			BucketID:    b.ID,
			BucketStart: b.TSStart,
		})
		if err != nil {
			return created, fmt.Errorf("failed to create assignment for bucket %s: %w", b.ID, err)
		}
		if ok {
			created++
			assigned[d.ID+"\x00"+b.ID] = true
		}
	}
	return created, nil
}
