package assignment

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wattrelay/wattrelay/pkg/audit"
	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/storage/storagemock"
	"github.com/wattrelay/wattrelay/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

var helsinki = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		panic(err)
	}
	return loc
}()

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func hourBucket(start time.Time, cents string) types.PriceBucket {
	end := start.Add(time.Hour)
	return types.PriceBucket{
		ID:          types.BucketID(start, end),
		TSStart:     start,
		TSEnd:       end,
		CentsPerKWH: dec(cents),
	}
}

func testManager(db *storagemock.MockDatabase, now time.Time) *Manager {
	m := New(db, audit.New(db, nil), helsinki)
	m.now = func() time.Time { return now }
	return m
}

func testDevice() types.Device {
	return types.Device{
		ID:                 "dev1",
		Owner:              "alice",
		Name:               "boiler",
		RunHoursPerDay:     2,
		DayTransferCents:   dec("0.5"),
		NightTransferCents: dec("0.2"),
	}
}

func TestAssignAllPicksCheapestBuckets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buckets := []types.PriceBucket{
		hourBucket(now, "5"),
		hourBucket(now.Add(time.Hour), "1"),
		hourBucket(now.Add(2*time.Hour), "8"),
		hourBucket(now.Add(3*time.Hour), "2"),
	}

	db := new(storagemock.MockDatabase)
	db.On("FuturePriceBuckets", mock.Anything, now).Return(buckets, nil)
	db.On("AssignmentsInRange", mock.Anything, now, now.Add(24*time.Hour)).Return([]types.Assignment{}, nil)
	db.On("ListDevices", mock.Anything).Return([]types.Device{testDevice()}, nil)
	db.On("InsertDeviceLog", mock.Anything, mock.Anything).Return(nil).Maybe()
	// device needs 2 hours at hourly resolution, so the two cheapest buckets
	db.On("CreateAssignment", mock.Anything, mock.MatchedBy(func(a types.Assignment) bool {
		return a.BucketID == buckets[1].ID
	})).Return(true, nil).Once()
	db.On("CreateAssignment", mock.Anything, mock.MatchedBy(func(a types.Assignment) bool {
		return a.BucketID == buckets[3].ID
	})).Return(true, nil).Once()

	m := testManager(db, now)
	require.NoError(t, m.AssignAll(context.Background()))
	db.AssertExpectations(t)
	db.AssertNumberOfCalls(t, "CreateAssignment", 2)
}

func TestAssignAllIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buckets := []types.PriceBucket{
		hourBucket(now, "2"),
		hourBucket(now.Add(time.Hour), "1"),
	}
	d := testDevice()

	committed := []types.Assignment{
		{
			ID:          types.AssignmentID(d.Owner, d.ID, buckets[0].ID),
			Owner:       d.Owner,
			DeviceID:    d.ID,
			BucketID:    buckets[0].ID,
			BucketStart: buckets[0].TSStart,
		},
		{
			ID:          types.AssignmentID(d.Owner, d.ID, buckets[1].ID),
			Owner:       d.Owner,
			DeviceID:    d.ID,
			BucketID:    buckets[1].ID,
			BucketStart: buckets[1].TSStart,
		},
	}

	db := new(storagemock.MockDatabase)
	db.On("FuturePriceBuckets", mock.Anything, now).Return(buckets, nil)
	db.On("ListDevices", mock.Anything).Return([]types.Device{d}, nil)
	db.On("InsertDeviceLog", mock.Anything, mock.Anything).Return(nil).Maybe()
	db.On("AssignmentsInRange", mock.Anything, now, now.Add(24*time.Hour)).
		Return([]types.Assignment{}, nil).Once()
	db.On("AssignmentsInRange", mock.Anything, now, now.Add(24*time.Hour)).
		Return(committed, nil).Once()
	db.On("CreateAssignment", mock.Anything, mock.Anything).Return(true, nil)

	m := testManager(db, now)
	require.NoError(t, m.AssignAll(context.Background()))
	require.NoError(t, m.AssignAll(context.Background()))

	// the second pass sees the committed assignments and creates nothing new
	db.AssertNumberOfCalls(t, "CreateAssignment", 2)
}

func TestAssignAllDeviceFailureIsolated(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buckets := []types.PriceBucket{
		hourBucket(now, "2"),
		hourBucket(now.Add(time.Hour), "1"),
	}

	bad := testDevice()
	good := testDevice()
	good.ID = "dev2"
	good.RunHoursPerDay = 1

	db := new(storagemock.MockDatabase)
	db.On("FuturePriceBuckets", mock.Anything, now).Return(buckets, nil)
	db.On("AssignmentsInRange", mock.Anything, now, now.Add(24*time.Hour)).Return([]types.Assignment{}, nil)
	db.On("ListDevices", mock.Anything).Return([]types.Device{bad, good}, nil)
	db.On("InsertDeviceLog", mock.Anything, mock.Anything).Return(nil).Maybe()
	// the first device's insert blows up with a permanent error
	db.On("CreateAssignment", mock.Anything, mock.MatchedBy(func(a types.Assignment) bool {
		return a.DeviceID == "dev1"
	})).Return(false, assert.AnError)
	db.On("CreateAssignment", mock.Anything, mock.MatchedBy(func(a types.Assignment) bool {
		return a.DeviceID == "dev2"
	})).Return(true, nil).Once()

	m := testManager(db, now)
	// the batch still succeeds
	require.NoError(t, m.AssignAll(context.Background()))
	db.AssertExpectations(t)
}

func TestAssignAllNoFutureBuckets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := new(storagemock.MockDatabase)
	db.On("FuturePriceBuckets", mock.Anything, now).Return([]types.PriceBucket{}, nil)

	m := testManager(db, now)
	require.NoError(t, m.AssignAll(context.Background()))
	db.AssertNotCalled(t, "ListDevices", mock.Anything)
}

func TestAssignAllSkipsZeroRunHours(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buckets := []types.PriceBucket{
		hourBucket(now, "2"),
		hourBucket(now.Add(time.Hour), "1"),
	}
	d := testDevice()
	d.RunHoursPerDay = 0

	db := new(storagemock.MockDatabase)
	db.On("FuturePriceBuckets", mock.Anything, now).Return(buckets, nil)
	db.On("AssignmentsInRange", mock.Anything, now, now.Add(24*time.Hour)).Return([]types.Assignment{}, nil)
	db.On("ListDevices", mock.Anything).Return([]types.Device{d}, nil)

	m := testManager(db, now)
	require.NoError(t, m.AssignAll(context.Background()))
	db.AssertNotCalled(t, "CreateAssignment", mock.Anything, mock.Anything)
}
