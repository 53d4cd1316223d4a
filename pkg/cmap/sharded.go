package cmap

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 16

// Map is a concurrent-safe sharded map with string keys.
type Map[V any] struct {
	shards      []*shard[V]
	shardMask   uint32
	maxPerShard int
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// New creates a map with the default shard count and no size limit.
func New[V any]() *Map[V] {
	return NewBounded[V](DefaultShardCount, 0)
}

// NewWithShards creates a map with shardCount shards and no size limit.
// shardCount must be a power of 2; other values use DefaultShardCount.
func NewWithShards[V any](shardCount int) *Map[V] {
	return NewBounded[V](shardCount, 0)
}

// NewBounded creates a map holding at most maxPerShard keys per shard.
// maxPerShard <= 0 means unbounded.
func NewBounded[V any](shardCount, maxPerShard int) *Map[V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}
	m := &Map[V]{
		shards:      make([]*shard[V], shardCount),
		shardMask:   uint32(shardCount - 1),
		maxPerShard: maxPerShard,
	}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[murmur3.Sum32([]byte(key))&m.shardMask]
}

// Get retrieves a value by key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores a key-value pair.
func (m *Map[V]) Set(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.insert(s, key, value)
}

// GetOrCreate returns the value for key, storing create() first if the key
// is absent. create runs under the shard lock. The bool reports whether
// the value was created.
func (m *Map[V]) GetOrCreate(key string, create func() V) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return v, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v, false
	}
	v = create()
	m.insert(s, key, v)
	return v, true
}

// insert stores key in s, resetting s first when it is full. Caller holds
// s.mu.
func (m *Map[V]) insert(s *shard[V], key string, value V) {
	if _, exists := s.items[key]; !exists && m.maxPerShard > 0 && len(s.items) >= m.maxPerShard {
		s.items = make(map[string]V)
	}
	s.items[key] = value
}

// Delete removes a key.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Has checks if a key exists.
func (m *Map[V]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Count returns the total number of items.
func (m *Map[V]) Count() int {
	count := 0
	for _, s := range m.shards {
		s.mu.RLock()
		count += len(s.items)
		s.mu.RUnlock()
	}
	return count
}

// Range calls fn for every item until fn returns false. Each shard is
// read-locked while it is visited, so fn must not modify the map.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Clear removes all items.
func (m *Map[V]) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.items = make(map[string]V)
		s.mu.Unlock()
	}
}
