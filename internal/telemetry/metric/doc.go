// Package metric provides Prometheus metrics for RouteMesh.
//
// A Registry owns a private prometheus.Registry with the Go and process
// collectors plus the routemesh_* collectors for routes, handshakes,
// gossip, data traffic and the monitor endpoint. Every recording method
// is safe on a nil *Registry so components can run without metrics.
//
// Metrics are exposed at /metrics by the monitor server.
package metric
