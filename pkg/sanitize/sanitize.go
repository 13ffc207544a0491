// Package sanitize redacts credential-shaped substrings from text destined
// for logs or the audit stream.
package sanitize

import (
	"regexp"
)

const placeholder = "[REDACTED]"

var (
	// auth_key / securityToken style query parameters, regardless of length
	paramRE = regexp.MustCompile(`(?i)(auth_key|securitytoken|token|api_key)=[^&\s"']+`)
	// anything long and token-shaped is treated as sensitive
	tokenRE = regexp.MustCompile(`[A-Za-z0-9_\-]{32,}`)
)

// Redact masks credential query parameters and long token-like substrings.
// The result is safe to persist in the device log.
func Redact(s string) string {
	s = paramRE.ReplaceAllString(s, "$1="+placeholder)
	return tokenRE.ReplaceAllString(s, placeholder)
}

// Error redacts an error's message, returning "" for nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}
