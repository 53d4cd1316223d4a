// Package main provides the entry point for routemesh-server.
//
// The server runs one cluster node:
//
//   - the route listener and the solicitors for cluster.routes
//   - gossip of known peers over established routes
//   - optional memberlist discovery and a badger peer cache
//   - the HTTP monitor endpoint (/healthz, /routez, /varz, /metrics)
//
// Usage:
//
//	routemesh-server --config /etc/routemesh/routemesh.yaml
//
// Editing the config file (or sending SIGHUP) re-applies the
// authorization block, the TLS key pair and the log level.
package main
