package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors
var (
	ErrPeerNotFound = errors.New("peer not found")
	ErrClosed       = errors.New("peer store closed")
)

// peerPrefix namespaces peer keys.
const peerPrefix = "peer/"

// PeerRecord is a cached peer.
type PeerRecord struct {
	Address    string    `json:"address"`
	ServerName string    `json:"server_name"`
	LastSeen   time.Time `json:"last_seen"`
}

// Validate checks the record can be stored.
func (p PeerRecord) Validate() error {
	if p.Address == "" {
		return fmt.Errorf("peer record: empty address")
	}
	if strings.ContainsAny(p.Address, "/ ") {
		return fmt.Errorf("peer record: invalid address %q", p.Address)
	}
	return nil
}

func peerKey(addr string) []byte {
	return []byte(peerPrefix + addr)
}

func encodePeer(p PeerRecord) ([]byte, error) {
	return json.Marshal(p)
}

func decodePeer(b []byte) (PeerRecord, error) {
	var p PeerRecord
	if err := json.Unmarshal(b, &p); err != nil {
		return PeerRecord{}, fmt.Errorf("decode peer record: %w", err)
	}
	return p, nil
}
