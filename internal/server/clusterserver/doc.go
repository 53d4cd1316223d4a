// Package clusterserver provides cluster routes for RouteMesh.
//
// A Manager accepts and solicits routes to peer nodes of the same cluster:
//
//   - Route registry with copy-on-write snapshots and change notification
//   - Route handshake (CONNECT / CONNECT_OK) with pluggable authentication
//   - Per-route state machine: dialing, authenticating, established,
//     draining, closed
//   - Reconnect with exponential backoff and seed dial stagger
//   - Peer list gossip (INFO) with per-sender epoch ordering
//   - Optional memberlist discovery and a persisted peer cache
//
// Routes speak length-prefixed, CRC-checked JSON frames over TCP or TLS.
package clusterserver
