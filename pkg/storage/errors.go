package storage

import (
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsContention reports whether err is a transient lock/busy-class error that
// is worth retrying. It recognizes sqlite lock errors and the Firestore gRPC
// codes that signal transient unavailability.
func IsContention(err error) bool {
	if err == nil {
		return false
	}

	switch status.Code(err) {
	case codes.Aborted, codes.Unavailable, codes.ResourceExhausted:
		return true
	}

	// modernc.org/sqlite surfaces SQLITE_BUSY/SQLITE_LOCKED in the message
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}
