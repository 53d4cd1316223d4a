// Package buildinfo exposes the version of the running RouteMesh binary.
//
// Release builds inject values with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/routemesh-go/internal/infra/buildinfo.Version=v0.3.0"
//
// Values left at their defaults are filled from the module build info
// embedded by the Go toolchain, when available.
package buildinfo
