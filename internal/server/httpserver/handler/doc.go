// Package handler provides the monitor endpoint handlers:
//
//   - health.go: GET /healthz
//   - routes.go: GET /routez
//   - varz.go: GET /varz
//
// All JSON responses use the Response envelope.
package handler
