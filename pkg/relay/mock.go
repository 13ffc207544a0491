package relay

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/wattrelay/wattrelay/pkg/types"
)

// MockClient is a testify mock of Client for use in tests.
type MockClient struct {
	mock.Mock
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) Status(ctx context.Context, device types.Device) (Status, error) {
	args := m.Called(ctx, device)
	return args.Get(0).(Status), args.Error(1)
}

func (m *MockClient) SetOutput(ctx context.Context, device types.Device, on bool) (Result, error) {
	args := m.Called(ctx, device, on)
	return args.Get(0).(Result), args.Error(1)
}
