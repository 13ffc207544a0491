package storage

import (
	"context"
	"errors"
	"time"

	"github.com/wattrelay/wattrelay/pkg/types"
)

var ErrThermostatNotFound = errors.New("thermostat not found")

// Database defines the interface for persisting prices, assignments, and the
// device audit log, and for reading externally managed devices and settings.
type Database interface {
	// Prices
	// UpsertPriceBucket adds or updates a bucket keyed by its deterministic ID.
	UpsertPriceBucket(ctx context.Context, b types.PriceBucket) error
	FuturePriceBuckets(ctx context.Context, from time.Time) ([]types.PriceBucket, error)
	PriceBucketsInRange(ctx context.Context, start, end time.Time) ([]types.PriceBucket, error)
	HasPriceBucketsAfter(ctx context.Context, t time.Time) (bool, error)

	// Devices & thermostats. Managed by an external collaborator; the
	// upserts exist for seeding and tests.
	ListDevices(ctx context.Context) ([]types.Device, error)
	UpsertDevice(ctx context.Context, d types.Device) error
	GetThermostat(ctx context.Context, id string) (types.ThermostatDevice, error)
	UpsertThermostat(ctx context.Context, th types.ThermostatDevice) error

	// Assignments
	// CreateAssignment has get-or-create semantics: created reports whether a
	// new row was written. The deterministic ID is the uniqueness guard.
	CreateAssignment(ctx context.Context, a types.Assignment) (created bool, err error)
	// DeleteAssignment is a no-op when the ID does not exist.
	DeleteAssignment(ctx context.Context, id string) error
	AssignmentsInRange(ctx context.Context, start, end time.Time) ([]types.Assignment, error)
	HasAssignmentForBuckets(ctx context.Context, deviceID string, bucketIDs []string) (bool, error)

	// Settings
	// GetSetting auto-provisions def when the key is absent.
	GetSetting(ctx context.Context, key, def string) (string, error)

	// Audit log
	InsertDeviceLog(ctx context.Context, e types.LogEntry) error
	// LatestDeviceLog returns nil when the device has no entries.
	LatestDeviceLog(ctx context.Context, deviceID string) (*types.LogEntry, error)

	// Lifecycle
	// Ready reports whether the backing schema is available.
	Ready(ctx context.Context) error
	Close() error
}
