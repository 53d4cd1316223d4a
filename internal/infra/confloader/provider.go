// Package confloader loads layered configuration for RouteMesh.
package confloader

import (
	"errors"
	"strings"
)

// ErrReadBytesNotSupported is returned when ReadBytes is called on a map provider.
var ErrReadBytesNotSupported = errors.New("confloader: map provider has no byte form")

// mapProvider feeds a flat or nested map into koanf. Dotted keys are
// expanded by koanf into nested paths.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return unflatten(out), nil
}

// unflatten turns {"a.b": 1} into {"a": {"b": 1}} so defaults can be given
// as dotted keys.
func unflatten(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, val := range in {
		parts := strings.Split(key, ".")
		cur := out
		for i, p := range parts {
			if i == len(parts)-1 {
				cur[p] = val
				break
			}
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
	}
	return out
}
