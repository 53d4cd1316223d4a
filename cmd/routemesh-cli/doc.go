// Package main provides the entry point for routemesh-cli.
//
// routemesh-cli reads a node's monitor endpoint and generates route
// credentials:
//
//	routemesh-cli -s 127.0.0.1:8222 routes
//	routemesh-cli health --wait 30s
//	routemesh-cli gen-token
package main
