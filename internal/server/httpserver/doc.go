// Package httpserver provides the HTTP monitor endpoint for RouteMesh.
//
// Endpoints:
//
//   - GET /healthz: liveness of the route manager
//   - GET /routez: membership view and every registered route
//   - GET /varz: identity, build info and the sanitized configuration
//   - GET /metrics: Prometheus metrics
//
// Requests pass through Recover, RequestID, AccessLog and the optional
// NetworkACL and RateLimit middlewares.
package httpserver
