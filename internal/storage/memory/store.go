// Package memory provides an in-memory peer store for RouteMesh.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/yndnr/routemesh-go/internal/storage"
)

// Store keeps peer records in a map. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	peers map[string]storage.PeerRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{peers: make(map[string]storage.PeerRecord)}
}

// SavePeer inserts or replaces a peer record.
func (s *Store) SavePeer(_ context.Context, p storage.PeerRecord) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.Address] = p
	return nil
}

// GetPeer returns the record for addr.
func (s *Store) GetPeer(_ context.Context, addr string) (storage.PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[addr]
	if !ok {
		return storage.PeerRecord{}, storage.ErrPeerNotFound
	}
	return p, nil
}

// DeletePeer removes addr.
func (s *Store) DeletePeer(_ context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, addr)
	return nil
}

// ListPeers returns all records sorted by address.
func (s *Store) ListPeers(_ context.Context) ([]storage.PeerRecord, error) {
	s.mu.RLock()
	out := make([]storage.PeerRecord, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}
