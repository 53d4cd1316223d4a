package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/yndnr/routemesh-go/internal/storage"
	"github.com/yndnr/routemesh-go/internal/storage/memory"
)

type peerStore interface {
	SavePeer(ctx context.Context, p storage.PeerRecord) error
	ListPeers(ctx context.Context) ([]storage.PeerRecord, error)
}

func openStores(b *testing.B) map[string]peerStore {
	b.Helper()
	bs, err := storage.OpenBadger(storage.BadgerConfig{InMemory: true}, discardLogger())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = bs.Close() })
	return map[string]peerStore{
		"memory": memory.New(),
		"badger": bs,
	}
}

func BenchmarkSavePeer(b *testing.B) {
	for name, store := range openStores(b) {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()
			for i := 0; i < b.N; i++ {
				rec := storage.PeerRecord{
					Address:    fmt.Sprintf("10.0.%d.%d:6222", (i/250)%250, i%250),
					ServerName: fmt.Sprintf("node-%d", i%1000),
					LastSeen:   time.Now(),
				}
				if err := store.SavePeer(ctx, rec); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkListPeers(b *testing.B) {
	for _, count := range []int{10, 100, 1000} {
		for name, store := range openStores(b) {
			ctx := context.Background()
			for i := 0; i < count; i++ {
				_ = store.SavePeer(ctx, storage.PeerRecord{
					Address:    fmt.Sprintf("10.1.%d.%d:6222", i/250, i%250),
					ServerName: fmt.Sprintf("node-%d", i),
				})
			}
			b.Run(fmt.Sprintf("%s/peers=%d", name, count), func(b *testing.B) {
				for i := 0; i < b.N; i++ {
					peers, err := store.ListPeers(ctx)
					if err != nil {
						b.Fatal(err)
					}
					if len(peers) != count {
						b.Fatalf("ListPeers = %d, want %d", len(peers), count)
					}
				}
			})
		}
	}
}
