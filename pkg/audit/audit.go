// Package audit records operational events to the persistent device log,
// mirroring them to the process logger and an optional publisher. Messages
// are redacted before they leave the process.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/sanitize"
	"github.com/wattrelay/wattrelay/pkg/storage"
	"github.com/wattrelay/wattrelay/pkg/types"
)

// Publisher mirrors audit entries to an external sink.
type Publisher interface {
	Publish(ctx context.Context, e types.LogEntry) error
}

// Logger writes audit entries. Writing is best-effort: storage or publish
// failures are logged and swallowed so auditing never breaks the job that
// produced the event.
type Logger struct {
	db  storage.Database
	pub Publisher
}

// New returns a Logger. pub may be nil.
func New(db storage.Database, pub Publisher) *Logger {
	return &Logger{db: db, pub: pub}
}

// Device records an entry for a specific device.
func (l *Logger) Device(ctx context.Context, deviceID, severity, msg string) {
	l.record(ctx, types.LogEntry{
		DeviceID:  deviceID,
		Message:   sanitize.Redact(msg),
		Severity:  severity,
		CreatedAt: time.Now(),
	})
}

// System records an entry not tied to any device.
func (l *Logger) System(ctx context.Context, severity, msg string) {
	l.record(ctx, types.LogEntry{
		Message:   sanitize.Redact(msg),
		Severity:  severity,
		CreatedAt: time.Now(),
	})
}

func (l *Logger) record(ctx context.Context, e types.LogEntry) {
	logger := log.Ctx(ctx)
	attrs := []any{
		slog.String("deviceID", e.DeviceID),
		slog.String("severity", e.Severity),
	}
	switch e.Severity {
	case types.SeverityError:
		logger.ErrorContext(ctx, e.Message, attrs...)
	case types.SeverityWarning:
		logger.WarnContext(ctx, e.Message, attrs...)
	default:
		logger.InfoContext(ctx, e.Message, attrs...)
	}

	if err := l.db.InsertDeviceLog(ctx, e); err != nil {
		logger.ErrorContext(ctx, "failed to persist audit entry", slog.Any("error", err))
	}

	if l.pub != nil {
		if err := l.pub.Publish(ctx, e); err != nil {
			logger.WarnContext(ctx, "failed to publish audit entry", slog.Any("error", err))
		}
	}
}
