// Package cmap provides a sharded, string-keyed concurrent map.
//
// Keys are spread over a power-of-two number of shards by murmur3 hash,
// each guarded by its own RWMutex. A map created with a per-shard limit
// drops a shard's contents when an insert would exceed it, which bounds
// memory for caches keyed by untrusted input such as client IPs:
//
//	limiters := cmap.NewBounded[*rate.Limiter](16, 64)
//	l, _ := limiters.GetOrCreate(ip, newLimiter)
package cmap
