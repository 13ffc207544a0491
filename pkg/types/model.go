package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceBucket is a fixed-width time interval with an associated day-ahead
// spot price. Prices are stored in currency-cents per kWh as exact decimals
// so that near-equal prices compare without float drift.
type PriceBucket struct {
	ID          string          `json:"id"`
	TSStart     time.Time       `json:"tsStart"`
	TSEnd       time.Time       `json:"tsEnd"`
	CentsPerKWH decimal.Decimal `json:"centsPerKWH"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// BucketID returns the deterministic ID for a price bucket. The ID doubles as
// the uniqueness key in storage: upserting the same window twice always hits
// the same row/document. Start-first formatting keeps IDs ordered by start
// time so document-ID range scans work.
func BucketID(start, end time.Time) string {
	return start.UTC().Format(time.RFC3339) + "_" + end.UTC().Format(time.RFC3339)
}

// Device is a relay-controlled appliance owned by a single user. Devices are
// managed externally; the automation core only reads them.
type Device struct {
	ID                 string          `json:"id"`
	Owner              string          `json:"owner"`
	Name               string          `json:"name"`
	CloudDeviceID      string          `json:"cloudDeviceID"`
	AuthKey            string          `json:"authKey"`
	Server             string          `json:"server"`
	RelayChannel       int             `json:"relayChannel"`
	AutomationEnabled  bool            `json:"automationEnabled"`
	RunHoursPerDay     int             `json:"runHoursPerDay"`
	DayTransferCents   decimal.Decimal `json:"dayTransferCents"`
	NightTransferCents decimal.Decimal `json:"nightTransferCents"`
	ThermostatID       string          `json:"thermostatID,omitempty"`
}

// CredentialKey groups devices that share a cloud endpoint and auth key.
// Devices in the same group serialize through one rate-limit bucket.
func (d Device) CredentialKey() string {
	return d.Server + "\x00" + d.AuthKey
}

// ThermostatDevice is a temperature sensor linked to a Device. Readings are
// produced externally and consumed read-only by the override manager.
type ThermostatDevice struct {
	ID                 string    `json:"id"`
	Owner              string    `json:"owner"`
	MinTemperature     float64   `json:"minTemperature"`
	MaxTemperature     float64   `json:"maxTemperature"`
	CurrentTemperature float64   `json:"currentTemperature"`
	LastReadingAt      time.Time `json:"lastReadingAt"`
}

// Assignment is a committed decision that a device should run during a price
// bucket. Assignments are created and deleted, never updated.
type Assignment struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	DeviceID    string    `json:"deviceID"`
	BucketID    string    `json:"bucketID"`
	BucketStart time.Time `json:"bucketStart"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AssignmentID returns the deterministic ID for an assignment. It encodes the
// (owner, device, bucket) tuple so the at-most-one invariant is enforced by
// the storage key itself, not just by application checks.
func AssignmentID(owner, deviceID, bucketID string) string {
	return fmt.Sprintf("%s_%s_%s", owner, deviceID, bucketID)
}

// Log severities for audit entries.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// LogEntry is an append-only audit record. DeviceID is empty for
// system-level entries.
type LogEntry struct {
	DeviceID  string    `json:"deviceID,omitempty"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	CreatedAt time.Time `json:"createdAt"`
}
