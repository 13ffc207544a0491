package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/retry"
	"github.com/wattrelay/wattrelay/pkg/storage"
	"github.com/wattrelay/wattrelay/pkg/types"
)

const (
	// hysteresisC widens the thermostat band on both sides to prevent
	// oscillation at the boundary.
	hysteresisC = 0.5

	// readings older than this are considered stale and ignored
	maxReadingAge = 15 * time.Minute
)

// ApplyNextPeriodAssignments applies thermostat overrides for the upcoming
// 15-minute period. The next period, not the current one, gives the relay
// command lead time to take effect before measurement. Overrides write to
// the same assignment store as price-driven scheduling; the reconciler does
// not care why an assignment exists.
func (m *Manager) ApplyNextPeriodAssignments(ctx context.Context) error {
	return retry.Do(ctx, retry.DefaultPolicy, storage.IsContention, m.applyNextPeriod)
}

func (m *Manager) applyNextPeriod(ctx context.Context) error {
	now := m.now()
	nextStart := now.UTC().Truncate(15 * time.Minute).Add(15 * time.Minute)
	nextEnd := nextStart.Add(15 * time.Minute)

	devices, err := m.db.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	for _, d := range devices {
		if d.ThermostatID == "" {
			continue
		}
		if err := m.overrideDevice(ctx, d, now, nextStart, nextEnd); err != nil {
			m.audit.Device(ctx, d.ID, types.SeverityError,
				fmt.Sprintf("thermostat override failed: %v", err))
		}
	}
	return nil
}

func (m *Manager) overrideDevice(ctx context.Context, d types.Device, now, nextStart, nextEnd time.Time) error {
	th, err := m.db.GetThermostat(ctx, d.ThermostatID)
	if err != nil {
		return fmt.Errorf("failed to load thermostat %s: %w", d.ThermostatID, err)
	}

	if now.Sub(th.LastReadingAt) > maxReadingAge {
		log.Ctx(ctx).DebugContext(ctx, "thermostat reading stale, skipping override",
			slog.String("deviceID", d.ID),
			slog.Time("lastReading", th.LastReadingAt),
		)
		return nil
	}

	// an hourly bucket covering the next quarter can start up to 45m earlier
	buckets, err := m.db.PriceBucketsInRange(ctx, nextStart.Add(-45*time.Minute), nextEnd)
	if err != nil {
		return fmt.Errorf("failed to load price buckets: %w", err)
	}
	var bucket *types.PriceBucket
	for i := range buckets {
		if !buckets[i].TSStart.After(nextStart) && buckets[i].TSEnd.After(nextStart) {
			bucket = &buckets[i]
			break
		}
	}
	if bucket == nil {
		m.audit.Device(ctx, d.ID, types.SeverityWarning,
			fmt.Sprintf("no price bucket covers next period %s", nextStart.Format(time.RFC3339)))
		return nil
	}

	minTrigger := th.MinTemperature - hysteresisC
	maxTrigger := th.MaxTemperature + hysteresisC

	switch {
	case th.CurrentTemperature < minTrigger:
		created, err := m.db.CreateAssignment(ctx, types.Assignment{
			ID:          types.AssignmentID(d.Owner, d.ID, bucket.ID),
			Owner:       d.Owner,
			DeviceID:    d.ID,
			BucketID:    bucket.ID,
			BucketStart: bucket.TSStart,
		})
		if err != nil {
			return fmt.Errorf("failed to create override assignment: %w", err)
		}
		if created {
			m.audit.Device(ctx, d.ID, types.SeverityInfo,
				fmt.Sprintf("temperature %.1f below %.1f, forcing run for next period", th.CurrentTemperature, minTrigger))
		}
	case th.CurrentTemperature > maxTrigger:
		if err := m.db.DeleteAssignment(ctx, types.AssignmentID(d.Owner, d.ID, bucket.ID)); err != nil {
			return fmt.Errorf("failed to delete override assignment: %w", err)
		}
		m.audit.Device(ctx, d.ID, types.SeverityInfo,
			fmt.Sprintf("temperature %.1f above %.1f, unassigning next period", th.CurrentTemperature, maxTrigger))
	default:
		// inside the hysteresis band, leave whatever the price-driven
		// scheduler decided
	}
	return nil
}
