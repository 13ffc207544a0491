package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Entities are stored as JSON blobs with the queryable fields
// duplicated as top-level document fields.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Ready reports whether the client can reach the database.
func (f *FirestoreProvider) Ready(ctx context.Context) error {
	if f.client == nil {
		return fmt.Errorf("firestore not initialized")
	}
	iter := f.client.Collection("settings").Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("failed to reach firestore: %w", err)
	}
	return nil
}

func unmarshalDoc(doc *firestore.DocumentSnapshot, dest interface{}) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// UpsertPriceBucket adds or updates a bucket document. The deterministic
// bucket ID doubles as the document ID, so re-upserts hit the same document
// and document-ID range scans stay ordered by start time.
func (f *FirestoreProvider) UpsertPriceBucket(ctx context.Context, b types.PriceBucket) error {
	if b.ID == "" {
		b.ID = types.BucketID(b.TSStart, b.TSEnd)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	jsonBytes, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal price bucket: %w", err)
	}
	_, err = f.client.Collection("price_buckets").Doc(b.ID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": b.TSStart,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert price bucket %s: %w", b.ID, err)
	}
	return nil
}

func (f *FirestoreProvider) iterPriceBuckets(ctx context.Context, iter *firestore.DocumentIterator) ([]types.PriceBucket, error) {
	defer iter.Stop()

	var buckets []types.PriceBucket
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating price buckets: %w", err)
		}

		var b types.PriceBucket
		if err := unmarshalDoc(doc, &b); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "bad price bucket doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// FuturePriceBuckets returns all buckets starting at or after from.
func (f *FirestoreProvider) FuturePriceBuckets(ctx context.Context, from time.Time) ([]types.PriceBucket, error) {
	iter := f.client.Collection("price_buckets").
		Where("timestamp", ">=", from).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx)
	return f.iterPriceBuckets(ctx, iter)
}

// PriceBucketsInRange returns buckets with start time in [start, end).
func (f *FirestoreProvider) PriceBucketsInRange(ctx context.Context, start, end time.Time) ([]types.PriceBucket, error) {
	iter := f.client.Collection("price_buckets").
		Where("timestamp", ">=", start).
		Where("timestamp", "<", end).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx)
	return f.iterPriceBuckets(ctx, iter)
}

// HasPriceBucketsAfter reports whether any bucket starts after t.
func (f *FirestoreProvider) HasPriceBucketsAfter(ctx context.Context, t time.Time) (bool, error) {
	// firestore automatically creates indexes for top-level fields
	iter := f.client.Collection("price_buckets").
		Where("timestamp", ">", t).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check price buckets: %w", err)
	}
	return true, nil
}

// ListDevices returns all devices.
func (f *FirestoreProvider) ListDevices(ctx context.Context) ([]types.Device, error) {
	iter := f.client.Collection("devices").Documents(ctx)
	defer iter.Stop()

	var devices []types.Device
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating devices: %w", err)
		}

		var d types.Device
		if err := unmarshalDoc(doc, &d); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "bad device doc", slog.String("deviceID", doc.Ref.ID), slog.Any("err", err))
			// Skip malformed documents
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// UpsertDevice adds or replaces a device document.
func (f *FirestoreProvider) UpsertDevice(ctx context.Context, d types.Device) error {
	jsonBytes, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal device %s: %w", d.ID, err)
	}
	_, err = f.client.Collection("devices").Doc(d.ID).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", d.ID, err)
	}
	return nil
}

// GetThermostat returns a thermostat by ID.
func (f *FirestoreProvider) GetThermostat(ctx context.Context, id string) (types.ThermostatDevice, error) {
	doc, err := f.client.Collection("thermostats").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.ThermostatDevice{}, fmt.Errorf("%w: %s", ErrThermostatNotFound, id)
		}
		return types.ThermostatDevice{}, fmt.Errorf("failed to get thermostat %s: %w", id, err)
	}

	var th types.ThermostatDevice
	if err := unmarshalDoc(doc, &th); err != nil {
		return types.ThermostatDevice{}, err
	}
	return th, nil
}

// UpsertThermostat adds or replaces a thermostat document.
func (f *FirestoreProvider) UpsertThermostat(ctx context.Context, th types.ThermostatDevice) error {
	jsonBytes, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("failed to marshal thermostat %s: %w", th.ID, err)
	}
	_, err = f.client.Collection("thermostats").Doc(th.ID).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert thermostat %s: %w", th.ID, err)
	}
	return nil
}

// CreateAssignment creates an assignment document, reporting created=false
// when the deterministic ID already exists.
func (f *FirestoreProvider) CreateAssignment(ctx context.Context, a types.Assignment) (bool, error) {
	if a.ID == "" {
		a.ID = types.AssignmentID(a.Owner, a.DeviceID, a.BucketID)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	jsonBytes, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("failed to marshal assignment: %w", err)
	}
	_, err = f.client.Collection("assignments").Doc(a.ID).Create(ctx, map[string]interface{}{
		"json":        string(jsonBytes),
		"deviceID":    a.DeviceID,
		"bucketID":    a.BucketID,
		"bucketStart": a.BucketStart,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("failed to create assignment %s: %w", a.ID, err)
	}
	return true, nil
}

// DeleteAssignment removes an assignment by ID, no-op if absent.
func (f *FirestoreProvider) DeleteAssignment(ctx context.Context, id string) error {
	_, err := f.client.Collection("assignments").Doc(id).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete assignment %s: %w", id, err)
	}
	return nil
}

// AssignmentsInRange returns assignments whose bucket starts in [start, end).
func (f *FirestoreProvider) AssignmentsInRange(ctx context.Context, start, end time.Time) ([]types.Assignment, error) {
	iter := f.client.Collection("assignments").
		Where("bucketStart", ">=", start).
		Where("bucketStart", "<", end).
		OrderBy("bucketStart", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var assignments []types.Assignment
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating assignments: %w", err)
		}

		var a types.Assignment
		if err := unmarshalDoc(doc, &a); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "bad assignment doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

// HasAssignmentForBuckets reports whether the device has an assignment for
// any of the given bucket IDs.
func (f *FirestoreProvider) HasAssignmentForBuckets(ctx context.Context, deviceID string, bucketIDs []string) (bool, error) {
	if len(bucketIDs) == 0 {
		return false, nil
	}

	iter := f.client.Collection("assignments").
		Where("deviceID", "==", deviceID).
		Where("bucketID", "in", bucketIDs).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check assignments for device %s: %w", deviceID, err)
	}
	return true, nil
}

// GetSetting returns a setting value, provisioning def when the key is new.
func (f *FirestoreProvider) GetSetting(ctx context.Context, key, def string) (string, error) {
	doc, err := f.client.Collection("settings").Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			_, err := f.client.Collection("settings").Doc(key).Create(ctx, map[string]interface{}{
				"value": def,
			})
			if err != nil && status.Code(err) != codes.AlreadyExists {
				return "", fmt.Errorf("failed to provision setting %s: %w", key, err)
			}
			return def, nil
		}
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}

	val, err := doc.DataAt("value")
	if err != nil {
		return "", fmt.Errorf("setting %s missing 'value' field: %w", key, err)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("setting %s 'value' field is not a string", key)
	}
	return str, nil
}

// InsertDeviceLog appends an audit entry. The document ID is the nanosecond
// timestamp plus the device ID to keep entries ordered and collision-free.
func (f *FirestoreProvider) InsertDeviceLog(ctx context.Context, e types.LogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	jsonBytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal device log: %w", err)
	}

	docID := e.CreatedAt.UTC().Format(time.RFC3339Nano) + "_" + e.DeviceID
	_, err = f.client.Collection("device_logs").Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"deviceID":  e.DeviceID,
		"timestamp": e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert device log: %w", err)
	}
	return nil
}

// LatestDeviceLog returns the most recent entry for a device, nil if none.
func (f *FirestoreProvider) LatestDeviceLog(ctx context.Context, deviceID string) (*types.LogEntry, error) {
	iter := f.client.Collection("device_logs").
		Where("deviceID", "==", deviceID).
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest device log for %s: %w", deviceID, err)
	}

	var e types.LogEntry
	if err := unmarshalDoc(doc, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
