// Package logger provides structured logging for RouteMesh.
package logger

import (
	"log/slog"
	"strings"

	"github.com/yndnr/routemesh-go/internal/core/domain"
)

// Key fragments whose values are never logged.
var sensitiveKeyPatterns = []string{
	"password",
	"pass",
	"secret",
	"token",
	"credential",
	"bearer",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		s := a.Value.String()
		if s != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
		if looksLikeURL(s) {
			return slog.String(a.Key, domain.RedactURL(s))
		}
	case slog.KindAny:
		if v, ok := a.Value.Any().([]string); ok {
			return slog.Any(a.Key, RedactURLs(v))
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") && strings.Contains(s, "@")
}

// RedactURLs returns a copy of urls with route passwords masked.
func RedactURLs(urls []string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = domain.RedactURL(u)
	}
	return out
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
