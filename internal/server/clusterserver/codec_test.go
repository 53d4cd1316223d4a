package clusterserver

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/yndnr/routemesh-go/internal/core/domain"
)

func TestFrame_WriteRead(t *testing.T) {
	var buf bytes.Buffer
	in := InfoMsg{
		ServerName: "a",
		Cluster:    "c",
		Instance:   "01H",
		Epoch:      7,
		Peers:      []PeerEntry{{ServerName: "b", Address: "10.0.0.2:6222"}},
	}
	if err := WriteFrame(&buf, FrameInfo, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := WriteFrame(&buf, FramePing, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	f, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Type != FrameInfo {
		t.Fatalf("type = %s, want INFO", f.Type)
	}
	var out InfoMsg
	if err := f.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Epoch != 7 || len(out.Peers) != 1 || out.Peers[0].Address != "10.0.0.2:6222" {
		t.Errorf("decoded %+v", out)
	}

	f, err = ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Type != FramePing || len(f.Payload) != 0 {
		t.Errorf("got %s with %d bytes, want empty PING", f.Type, len(f.Payload))
	}

	if _, err := ReadFrame(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end, got %v", err)
	}
}

func TestReadFrame_Corrupt(t *testing.T) {
	good, err := EncodeFrame(FrameMsg, Message{Subject: "x"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{"bad checksum", func() []byte {
			b := append([]byte(nil), good...)
			b[len(b)-1] ^= 0xff
			return b
		}()},
		{"unknown type", func() []byte {
			b := append([]byte(nil), good...)
			b[8] = 99
			return b
		}()},
		{"short length", []byte{0, 0, 0, 2, 0, 0}},
		{"oversized length", func() []byte {
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, MaxFrameSize+1)
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.input))
			if !errors.Is(err, domain.ErrProtocol) {
				t.Errorf("expected ErrProtocol, got %v", err)
			}
		})
	}
}

func TestReadFrame_Truncated(t *testing.T) {
	good, _ := EncodeFrame(FrameMsg, Message{Subject: "x"})
	_, err := ReadFrame(bytes.NewReader(good[:len(good)-2]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestEncodeFrame_TooLarge(t *testing.T) {
	_, err := EncodeFrame(FrameMsg, Message{Data: make([]byte, MaxFrameSize)})
	if !errors.Is(err, domain.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestFrame_DecodeEmpty(t *testing.T) {
	var m Message
	if err := (Frame{Type: FrameMsg}).Decode(&m); !errors.Is(err, domain.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestErrFrame_RoundTripsCode(t *testing.T) {
	msg := errFrame(domain.ErrClusterMismatch.WithDetails("peer in cluster x"))
	if msg.Code != domain.ErrClusterMismatch.Code {
		t.Fatalf("code = %s", msg.Code)
	}
	back := domain.ErrorFromCode(msg.Code, msg.Message)
	if !errors.Is(back, domain.ErrClusterMismatch) {
		t.Errorf("ErrorFromCode(%s) = %v", msg.Code, back)
	}

	if got := errFrame(io.EOF); got.Code != domain.ErrProtocol.Code {
		t.Errorf("plain error code = %s, want %s", got.Code, domain.ErrProtocol.Code)
	}
}

func TestFrameType_String(t *testing.T) {
	if FrameConnectOK.String() != "CONNECT_OK" {
		t.Errorf("got %s", FrameConnectOK)
	}
	if FrameType(42).String() != "FRAME(42)" {
		t.Errorf("got %s", FrameType(42))
	}
}
