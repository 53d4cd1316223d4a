// Package domain defines the core domain models for RouteMesh.
//
// Domain models are pure value objects without IO dependencies:
//
//   - RouteURL: parsed seed route URL with normalized peer address
//   - RouteState / Direction: route lifecycle vocabulary
//   - PeerInfo: identity a remote node presents during the handshake
//   - Errors: structured error taxonomy (config, dial, auth, protocol, timeout)
package domain
