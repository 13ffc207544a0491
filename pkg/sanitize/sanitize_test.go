package sanitize

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactLongToken(t *testing.T) {
	token := "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6" // 36 chars
	msg := "request failed with key " + token + " on server"
	got := Redact(msg)
	assert.NotContains(t, got, token)
	assert.Contains(t, got, "[REDACTED]")
	assert.Contains(t, got, "request failed with key")
}

func TestRedactQueryParam(t *testing.T) {
	got := Redact("GET /device/status?id=boiler&auth_key=shortkey failed")
	assert.NotContains(t, got, "shortkey")
	assert.Contains(t, got, "auth_key=[REDACTED]")
	// surrounding text survives
	assert.Contains(t, got, "id=boiler")
}

func TestRedactLeavesShortWordsAlone(t *testing.T) {
	msg := "device offline after 3 attempts"
	assert.Equal(t, msg, Redact(msg))
}

func TestError(t *testing.T) {
	assert.Equal(t, "", Error(nil))

	token := strings.Repeat("x", 40)
	got := Error(errors.New("status call: " + token))
	assert.NotContains(t, got, token)
	assert.Contains(t, got, "status call")
}
