// Package connection is the HTTP client for the routemesh-server monitor
// endpoint, shared by routemesh-cli and routemesh-exercise.
package connection
