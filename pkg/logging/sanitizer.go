package logging

import (
	"regexp"
)

const (
	// ErrorPreviewLength caps error text in failure log lines. Stored
	// failure messages keep their full length.
	ErrorPreviewLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match secrets passed as key=value pairs
	// Matches: password=xxx, pwd=xxx, client_secret=xxx (until next delimiter)
	secretPattern = regexp.MustCompile(`(?i)(password|pwd|pass|client[_-]?secret)=[^;&\s]+`)

	// Pattern to match bearer tokens (three base64url segments separated by dots)
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from connection strings
// before they are logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := secretPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might carry tokens or
// connection credentials, e.g. errors wrapping an HTTP request or a
// database open failure.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := secretPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// ErrorPreview sanitizes an error and caps it at ErrorPreviewLength for
// log lines and the run-end failure roll-up.
func ErrorPreview(err error) string {
	return TruncateString(SanitizeError(err), ErrorPreviewLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
