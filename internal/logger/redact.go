package logger

import (
	"regexp"
	"strings"
)

const maxRedactedLen = 1024

var credentialPattern = regexp.MustCompile(`(?i)("?(?:[a-z_-]*secret[a-z_-]*|api[_-]?key|authorization)"?\s*[:=]\s*")([^"]+)(")`)

// MaskSecret keeps the first and last four characters of long values.
func MaskSecret(v string) string {
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

// Redact truncates v and masks credential-looking JSON or header values.
func Redact(v string) string {
	if len(v) > maxRedactedLen {
		v = v[:maxRedactedLen]
	}
	return credentialPattern.ReplaceAllStringFunc(v, func(m string) string {
		parts := credentialPattern.FindStringSubmatch(m)
		return parts[1] + MaskSecret(parts[2]) + parts[3]
	})
}
