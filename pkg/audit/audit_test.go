package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/storage/storagemock"
	"github.com/wattrelay/wattrelay/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func TestDeviceEntryIsRedacted(t *testing.T) {
	db := new(storagemock.MockDatabase)
	token := strings.Repeat("k", 40)

	db.On("InsertDeviceLog", mock.Anything, mock.MatchedBy(func(e types.LogEntry) bool {
		return e.DeviceID == "dev1" &&
			e.Severity == types.SeverityError &&
			!strings.Contains(e.Message, token) &&
			strings.Contains(e.Message, "[REDACTED]")
	})).Return(nil).Once()

	l := New(db, nil)
	l.Device(context.Background(), "dev1", types.SeverityError, "status call failed: "+token)

	db.AssertExpectations(t)
}

func TestSystemEntryHasNoDevice(t *testing.T) {
	db := new(storagemock.MockDatabase)
	db.On("InsertDeviceLog", mock.Anything, mock.MatchedBy(func(e types.LogEntry) bool {
		return e.DeviceID == "" && e.Message == "assignment pass finished"
	})).Return(nil).Once()

	l := New(db, nil)
	l.System(context.Background(), types.SeverityInfo, "assignment pass finished")

	db.AssertExpectations(t)
}

type recordingPublisher struct {
	entries []types.LogEntry
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, e types.LogEntry) error {
	p.entries = append(p.entries, e)
	return p.err
}

func TestPublisherMirrorsEntries(t *testing.T) {
	db := new(storagemock.MockDatabase)
	db.On("InsertDeviceLog", mock.Anything, mock.Anything).Return(nil)

	pub := &recordingPublisher{}
	l := New(db, pub)
	l.Device(context.Background(), "dev1", types.SeverityInfo, "Device turned ON")

	assert.Len(t, pub.entries, 1)
	assert.Equal(t, "Device turned ON", pub.entries[0].Message)
}

func TestStorageFailureDoesNotPanic(t *testing.T) {
	db := new(storagemock.MockDatabase)
	db.On("InsertDeviceLog", mock.Anything, mock.Anything).Return(errors.New("database is locked"))

	l := New(db, &recordingPublisher{err: errors.New("broker down")})
	// must not panic or propagate
	l.Device(context.Background(), "dev1", types.SeverityInfo, "Device turned OFF")
	db.AssertExpectations(t)
}
