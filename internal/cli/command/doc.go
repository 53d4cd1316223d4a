// Package command defines the routemesh-cli commands.
//
//   - routes: list routes and the membership view (/routez)
//   - health: check or wait for /healthz
//   - server: identity and build information (/varz)
//   - passwd, gen-token: produce cluster.authorization credentials
//
// Commands write to the app's Writer so tests can capture output.
package command
