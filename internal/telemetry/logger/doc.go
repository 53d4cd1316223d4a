// Package logger provides structured logging for RouteMesh.
//
// It wraps log/slog:
//
//   - logger.go: construction from the log section, file output, runtime level
//   - context.go: loggers and request IDs carried in a context
//   - redact.go: masking of credentials before they reach the output
//
// Attributes whose key names a secret (password, token, ...) are fully
// redacted, and route URLs have their password replaced, so a logged seed
// URL never exposes route credentials.
package logger
