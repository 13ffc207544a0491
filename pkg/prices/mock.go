package prices

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/wattrelay/wattrelay/pkg/types"
)

// MockProvider is a testify mock of Provider for use in tests.
type MockProvider struct {
	mock.Mock
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) DayAhead(ctx context.Context, token string, start, end time.Time) ([]types.PriceBucket, error) {
	args := m.Called(ctx, token, start, end)
	return args.Get(0).([]types.PriceBucket), args.Error(1)
}
