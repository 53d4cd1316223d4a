package benchmark

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/yndnr/routemesh-go/internal/core/domain"
	"github.com/yndnr/routemesh-go/internal/server/clusterserver"
)

func BenchmarkEncodeMsg(b *testing.B) {
	for _, size := range PayloadSizes {
		msg := newMessage(size)
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			b.SetBytes(int64(size))
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := clusterserver.EncodeFrame(clusterserver.FrameMsg, msg); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkReadMsg(b *testing.B) {
	for _, size := range PayloadSizes {
		frame, err := clusterserver.EncodeFrame(clusterserver.FrameMsg, newMessage(size))
		if err != nil {
			b.Fatal(err)
		}
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			b.SetBytes(int64(size))
			b.ReportAllocs()
			r := bytes.NewReader(frame)
			for i := 0; i < b.N; i++ {
				r.Reset(frame)
				f, err := clusterserver.ReadFrame(r)
				if err != nil {
					b.Fatal(err)
				}
				var m clusterserver.Message
				if err := f.Decode(&m); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkConnectFrame(b *testing.B) {
	cm := clusterserver.ConnectMsg{
		PeerInfo: domain.PeerInfo{
			ServerName: "node-a", Cluster: "prod", Instance: "01J9ZX4AKQ2M8E6N3V0W5T7Y1B", Listen: "10.0.0.1:6222",
		},
		User: "route", Pass: "s3cret",
	}
	b.ReportAllocs()
	var buf bytes.Buffer
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := clusterserver.WriteFrame(&buf, clusterserver.FrameConnect, cm); err != nil {
			b.Fatal(err)
		}
		if _, err := clusterserver.ReadFrame(&buf); err != nil {
			b.Fatal(err)
		}
	}
}
