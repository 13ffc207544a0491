package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/wattrelay/wattrelay/pkg/storage"
	"github.com/wattrelay/wattrelay/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) UpsertPriceBucket(ctx context.Context, b types.PriceBucket) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockDatabase) FuturePriceBuckets(ctx context.Context, from time.Time) ([]types.PriceBucket, error) {
	args := m.Called(ctx, from)
	if len(args) > 0 {
		return args.Get(0).([]types.PriceBucket), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) PriceBucketsInRange(ctx context.Context, start, end time.Time) ([]types.PriceBucket, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.PriceBucket), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) HasPriceBucketsAfter(ctx context.Context, t time.Time) (bool, error) {
	args := m.Called(ctx, t)
	return args.Bool(0), args.Error(1)
}

func (m *MockDatabase) ListDevices(ctx context.Context) ([]types.Device, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.Device), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) UpsertDevice(ctx context.Context, d types.Device) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDatabase) GetThermostat(ctx context.Context, id string) (types.ThermostatDevice, error) {
	args := m.Called(ctx, id)
	if len(args) > 0 {
		return args.Get(0).(types.ThermostatDevice), args.Error(1)
	}
	return types.ThermostatDevice{}, nil
}

func (m *MockDatabase) UpsertThermostat(ctx context.Context, th types.ThermostatDevice) error {
	args := m.Called(ctx, th)
	return args.Error(0)
}

func (m *MockDatabase) CreateAssignment(ctx context.Context, a types.Assignment) (bool, error) {
	args := m.Called(ctx, a)
	return args.Bool(0), args.Error(1)
}

func (m *MockDatabase) DeleteAssignment(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDatabase) AssignmentsInRange(ctx context.Context, start, end time.Time) ([]types.Assignment, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Assignment), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) HasAssignmentForBuckets(ctx context.Context, deviceID string, bucketIDs []string) (bool, error) {
	args := m.Called(ctx, deviceID, bucketIDs)
	return args.Bool(0), args.Error(1)
}

func (m *MockDatabase) GetSetting(ctx context.Context, key, def string) (string, error) {
	args := m.Called(ctx, key, def)
	return args.String(0), args.Error(1)
}

func (m *MockDatabase) InsertDeviceLog(ctx context.Context, e types.LogEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockDatabase) LatestDeviceLog(ctx context.Context, deviceID string) (*types.LogEntry, error) {
	args := m.Called(ctx, deviceID)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.LogEntry), args.Error(1)
}

func (m *MockDatabase) Ready(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
