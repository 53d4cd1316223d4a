// Package config defines the routemesh-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation, returning ErrConfigInvalid
//   - sanitize.go: masking of secrets for logs and /varz
//   - cluster.go: conversion to clusterserver.Config
//
// Configuration is loaded via internal/infra/confloader from a YAML file and
// ROUTEMESH_* environment variables.
package config
