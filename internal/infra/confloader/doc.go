// Package confloader loads layered configuration for RouteMesh.
//
// Sources are merged with koanf in this order (later wins):
//
//  1. Values supplied with LoadMap (defaults, CLI flags)
//  2. The YAML configuration file
//  3. ROUTEMESH_* environment variables
//
// Environment keys use a double underscore to separate nesting levels so
// that single underscores inside key names survive:
//
//	ROUTEMESH_CLUSTER__AUTHORIZATION__TIMEOUT=0.5 -> cluster.authorization.timeout
//	ROUTEMESH_SERVER_NAME=node-a                  -> server_name
//
// Watcher reports edits of the configuration file so the server can
// re-apply the reloadable subset.
package confloader
