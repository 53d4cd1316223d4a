// Package benchmark holds benchmarks for the route hot paths: frame
// encoding, route authentication and the peer cache.
//
//	go test -bench . -benchmem ./internal/tests/benchmark
package benchmark

import (
	"crypto/rand"
	"io"
	"log/slog"

	"github.com/yndnr/routemesh-go/internal/server/clusterserver"
)

// PayloadSizes are the MSG payload sizes benchmarked.
var PayloadSizes = []int{64, 1 << 10, 16 << 10, 256 << 10}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMessage(size int) clusterserver.Message {
	data := make([]byte, size)
	_, _ = rand.Read(data)
	return clusterserver.Message{Subject: "bench.data", Reply: "bench.reply", Data: data}
}
