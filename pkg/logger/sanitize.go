package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@*******.com")
func SanitizedEmail(email string) string {
	user, domain, ok := strings.Cut(email, "@")
	if !ok || user == "" || domain == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	if len(user) > 1 {
		user = user[:1] + strings.Repeat("*", len(user)-1)
	}

	// Keep only the TLD readable
	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}

	return user + "@" + strings.Join(labels, ".")
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// Query parameters that carry login state, magic link codes or secrets.
var sensitiveParams = map[string]bool{
	"state":        true,
	"code":         true,
	"session":      true,
	"sessiontoken": true,
	"token":        true,
	"secret":       true,
	"email":        true,
	"password":     true,
}

// SanitizeQueryString reports whether rawQuery names a sensitive parameter,
// in which case the whole query string should be kept out of logs.
// Unparseable queries are treated as sensitive.
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return true
	}
	for key := range values {
		if sensitiveParams[strings.ToLower(key)] {
			return true
		}
	}
	return false
}
