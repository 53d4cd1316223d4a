// Package storage persists RouteMesh peer records.
//
// Peers learned at runtime (from gossip, discovery or inbound routes) are
// cached so that a restarted node can solicit them again before any seed
// answers. Two stores are provided:
//
//   - BadgerStore: Badger v3 backed, one key per peer (peer/<address>)
//   - memory.Store: in-process map for tests and ephemeral nodes
package storage
