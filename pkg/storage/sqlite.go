package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/shopspring/decimal"
	"github.com/wattrelay/wattrelay/pkg/types"
	_ "modernc.org/sqlite"
)

// SQLiteProvider implements the Database interface on a local sqlite file.
// This is the default backend and matches the original single-instance
// deployment model.
type SQLiteProvider struct {
	conn *sql.DB
	path string
}

// configuredSQLite sets up the sqlite provider. It registers flags for
// configuration.
func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "wattrelay.db", "Path to the sqlite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return fmt.Errorf("sqlite-path is required")
	}
	return nil
}

// Init opens the database and creates the schema.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	conn, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database (%s): %w", s.path, err)
	}
	// sqlite permits one writer; serializing through a single connection
	// avoids SQLITE_BUSY between job goroutines for the common case.
	conn.SetMaxOpenConns(1)
	s.conn = conn

	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := s.initSchema(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *SQLiteProvider) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS price_buckets (
		id TEXT PRIMARY KEY,
		ts_start TEXT NOT NULL,
		ts_end TEXT NOT NULL,
		cents_per_kwh TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_price_buckets_start ON price_buckets(ts_start);

	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		cloud_device_id TEXT NOT NULL,
		auth_key TEXT NOT NULL,
		server TEXT NOT NULL,
		relay_channel INTEGER NOT NULL DEFAULT 0,
		automation_enabled INTEGER NOT NULL DEFAULT 0,
		run_hours_per_day INTEGER NOT NULL DEFAULT 0,
		day_transfer_cents TEXT NOT NULL DEFAULT '0',
		night_transfer_cents TEXT NOT NULL DEFAULT '0',
		thermostat_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS thermostats (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		min_temperature REAL NOT NULL,
		max_temperature REAL NOT NULL,
		current_temperature REAL NOT NULL,
		last_reading_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		device_id TEXT NOT NULL,
		bucket_id TEXT NOT NULL,
		bucket_start TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(owner, device_id, bucket_id)
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_bucket_start ON assignments(bucket_start);
	CREATE INDEX IF NOT EXISTS idx_assignments_device ON assignments(device_id, bucket_id);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		severity TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_device_logs_device ON device_logs(device_id, created_at);
	`

	_, err := s.conn.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteProvider) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Ready reports whether the schema is available.
func (s *SQLiteProvider) Ready(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("sqlite not initialized")
	}
	var name string
	err := s.conn.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'assignments'`).Scan(&name)
	if err == sql.ErrNoRows {
		return fmt.Errorf("assignments table missing")
	}
	if err != nil {
		return fmt.Errorf("failed to check schema: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// UpsertPriceBucket adds or updates a bucket keyed by its deterministic ID.
// The price is overwritten on conflict; created_at keeps its original value.
func (s *SQLiteProvider) UpsertPriceBucket(ctx context.Context, b types.PriceBucket) error {
	if b.ID == "" {
		b.ID = types.BucketID(b.TSStart, b.TSEnd)
	}
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO price_buckets (id, ts_start, ts_end, cents_per_kwh, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET cents_per_kwh = excluded.cents_per_kwh`,
		b.ID, formatTime(b.TSStart), formatTime(b.TSEnd), b.CentsPerKWH.String(), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to upsert price bucket %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQLiteProvider) queryPriceBuckets(ctx context.Context, where string, args ...interface{}) ([]types.PriceBucket, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, ts_start, ts_end, cents_per_kwh, created_at
		FROM price_buckets `+where+` ORDER BY ts_start ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price buckets: %w", err)
	}
	defer rows.Close()

	var buckets []types.PriceBucket
	for rows.Next() {
		var b types.PriceBucket
		var startStr, endStr, centsStr, createdStr string
		if err := rows.Scan(&b.ID, &startStr, &endStr, &centsStr, &createdStr); err != nil {
			return nil, fmt.Errorf("failed to scan price bucket: %w", err)
		}
		if b.TSStart, err = parseTime(startStr); err != nil {
			return nil, fmt.Errorf("invalid ts_start for bucket %s: %w", b.ID, err)
		}
		if b.TSEnd, err = parseTime(endStr); err != nil {
			return nil, fmt.Errorf("invalid ts_end for bucket %s: %w", b.ID, err)
		}
		if b.CentsPerKWH, err = decimal.NewFromString(centsStr); err != nil {
			return nil, fmt.Errorf("invalid price for bucket %s: %w", b.ID, err)
		}
		if b.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, fmt.Errorf("invalid created_at for bucket %s: %w", b.ID, err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// FuturePriceBuckets returns all buckets starting at or after from.
func (s *SQLiteProvider) FuturePriceBuckets(ctx context.Context, from time.Time) ([]types.PriceBucket, error) {
	return s.queryPriceBuckets(ctx, "WHERE ts_start >= ?", formatTime(from))
}

// PriceBucketsInRange returns buckets with ts_start in [start, end).
func (s *SQLiteProvider) PriceBucketsInRange(ctx context.Context, start, end time.Time) ([]types.PriceBucket, error) {
	return s.queryPriceBuckets(ctx, "WHERE ts_start >= ? AND ts_start < ?", formatTime(start), formatTime(end))
}

// HasPriceBucketsAfter reports whether any bucket starts after t.
func (s *SQLiteProvider) HasPriceBucketsAfter(ctx context.Context, t time.Time) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM price_buckets WHERE ts_start > ? LIMIT 1`, formatTime(t)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check price buckets: %w", err)
	}
	return true, nil
}

// ListDevices returns all devices.
func (s *SQLiteProvider) ListDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, owner, name, cloud_device_id, auth_key, server, relay_channel,
		       automation_enabled, run_hours_per_day, day_transfer_cents,
		       night_transfer_cents, thermostat_id
		FROM devices ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		var d types.Device
		var enabled int
		var dayStr, nightStr string
		if err := rows.Scan(&d.ID, &d.Owner, &d.Name, &d.CloudDeviceID, &d.AuthKey, &d.Server,
			&d.RelayChannel, &enabled, &d.RunHoursPerDay, &dayStr, &nightStr, &d.ThermostatID); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d.AutomationEnabled = enabled != 0
		if d.DayTransferCents, err = decimal.NewFromString(dayStr); err != nil {
			return nil, fmt.Errorf("invalid day transfer for device %s: %w", d.ID, err)
		}
		if d.NightTransferCents, err = decimal.NewFromString(nightStr); err != nil {
			return nil, fmt.Errorf("invalid night transfer for device %s: %w", d.ID, err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpsertDevice adds or replaces a device row.
func (s *SQLiteProvider) UpsertDevice(ctx context.Context, d types.Device) error {
	enabled := 0
	if d.AutomationEnabled {
		enabled = 1
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO devices
		(id, owner, name, cloud_device_id, auth_key, server, relay_channel,
		 automation_enabled, run_hours_per_day, day_transfer_cents, night_transfer_cents, thermostat_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Owner, d.Name, d.CloudDeviceID, d.AuthKey, d.Server, d.RelayChannel,
		enabled, d.RunHoursPerDay, d.DayTransferCents.String(), d.NightTransferCents.String(), d.ThermostatID)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", d.ID, err)
	}
	return nil
}

// GetThermostat returns a thermostat by ID.
func (s *SQLiteProvider) GetThermostat(ctx context.Context, id string) (types.ThermostatDevice, error) {
	var th types.ThermostatDevice
	var readingStr string
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, owner, min_temperature, max_temperature, current_temperature, last_reading_at
		FROM thermostats WHERE id = ?`, id).
		Scan(&th.ID, &th.Owner, &th.MinTemperature, &th.MaxTemperature, &th.CurrentTemperature, &readingStr)
	if err == sql.ErrNoRows {
		return types.ThermostatDevice{}, fmt.Errorf("%w: %s", ErrThermostatNotFound, id)
	}
	if err != nil {
		return types.ThermostatDevice{}, fmt.Errorf("failed to get thermostat %s: %w", id, err)
	}
	if th.LastReadingAt, err = parseTime(readingStr); err != nil {
		return types.ThermostatDevice{}, fmt.Errorf("invalid last_reading_at for thermostat %s: %w", id, err)
	}
	return th, nil
}

// UpsertThermostat adds or replaces a thermostat row.
func (s *SQLiteProvider) UpsertThermostat(ctx context.Context, th types.ThermostatDevice) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO thermostats
		(id, owner, min_temperature, max_temperature, current_temperature, last_reading_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		th.ID, th.Owner, th.MinTemperature, th.MaxTemperature, th.CurrentTemperature, formatTime(th.LastReadingAt))
	if err != nil {
		return fmt.Errorf("failed to upsert thermostat %s: %w", th.ID, err)
	}
	return nil
}

// CreateAssignment inserts an assignment, ignoring duplicates. The primary
// key on the deterministic ID makes concurrent inserts race-safe.
func (s *SQLiteProvider) CreateAssignment(ctx context.Context, a types.Assignment) (bool, error) {
	if a.ID == "" {
		a.ID = types.AssignmentID(a.Owner, a.DeviceID, a.BucketID)
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO assignments (id, owner, device_id, bucket_id, bucket_start, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Owner, a.DeviceID, a.BucketID, formatTime(a.BucketStart), formatTime(createdAt))
	if err != nil {
		return false, fmt.Errorf("failed to create assignment %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteAssignment removes an assignment by ID, no-op if absent.
func (s *SQLiteProvider) DeleteAssignment(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM assignments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete assignment %s: %w", id, err)
	}
	return nil
}

// AssignmentsInRange returns assignments whose bucket starts in [start, end).
func (s *SQLiteProvider) AssignmentsInRange(ctx context.Context, start, end time.Time) ([]types.Assignment, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, owner, device_id, bucket_id, bucket_start, created_at
		FROM assignments WHERE bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start ASC`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []types.Assignment
	for rows.Next() {
		var a types.Assignment
		var startStr, createdStr string
		if err := rows.Scan(&a.ID, &a.Owner, &a.DeviceID, &a.BucketID, &startStr, &createdStr); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if a.BucketStart, err = parseTime(startStr); err != nil {
			return nil, fmt.Errorf("invalid bucket_start for assignment %s: %w", a.ID, err)
		}
		if a.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, fmt.Errorf("invalid created_at for assignment %s: %w", a.ID, err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// HasAssignmentForBuckets reports whether the device has an assignment for
// any of the given bucket IDs.
func (s *SQLiteProvider) HasAssignmentForBuckets(ctx context.Context, deviceID string, bucketIDs []string) (bool, error) {
	if len(bucketIDs) == 0 {
		return false, nil
	}

	placeholders := strings.Repeat("?,", len(bucketIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(bucketIDs)+1)
	args = append(args, deviceID)
	for _, id := range bucketIDs {
		args = append(args, id)
	}

	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM assignments WHERE device_id = ? AND bucket_id IN (`+placeholders+`) LIMIT 1`,
		args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check assignments for device %s: %w", deviceID, err)
	}
	return true, nil
}

// GetSetting returns a setting value, provisioning def when the key is new.
func (s *SQLiteProvider) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		if _, err := s.conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, def); err != nil {
			return "", fmt.Errorf("failed to provision setting %s: %w", key, err)
		}
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// InsertDeviceLog appends an audit entry.
func (s *SQLiteProvider) InsertDeviceLog(ctx context.Context, e types.LogEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO device_logs (device_id, message, severity, created_at)
		VALUES (?, ?, ?, ?)`,
		e.DeviceID, e.Message, e.Severity, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to insert device log: %w", err)
	}
	return nil
}

// LatestDeviceLog returns the most recent entry for a device, nil if none.
func (s *SQLiteProvider) LatestDeviceLog(ctx context.Context, deviceID string) (*types.LogEntry, error) {
	var e types.LogEntry
	var createdStr string
	err := s.conn.QueryRowContext(ctx, `
		SELECT device_id, message, severity, created_at
		FROM device_logs WHERE device_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, deviceID).
		Scan(&e.DeviceID, &e.Message, &e.Severity, &createdStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest device log for %s: %w", deviceID, err)
	}
	if e.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("invalid created_at in device log for %s: %w", deviceID, err)
	}
	return &e, nil
}
