// Package tlsroots builds the TLS configuration for cluster routes.
//
// A route connection is mutually authenticated: both ends present the
// key pair from cluster.tls and verify the other against the cluster CA.
// Key pairs are reloaded in place when the files change so certificates
// can be rotated without dropping established routes.
package tlsroots
