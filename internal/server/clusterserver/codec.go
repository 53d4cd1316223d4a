package clusterserver

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/yndnr/routemesh-go/internal/core/domain"
)

// FrameType identifies a route protocol frame.
type FrameType uint8

const (
	FrameConnect FrameType = iota + 1
	FrameConnectOK
	FrameErr
	FrameInfo
	FramePing
	FramePong
	FrameMsg
	FrameReconnect
	FrameClose
)

var frameNames = map[FrameType]string{
	FrameConnect:   "CONNECT",
	FrameConnectOK: "CONNECT_OK",
	FrameErr:       "ERR",
	FrameInfo:      "INFO",
	FramePing:      "PING",
	FramePong:      "PONG",
	FrameMsg:       "MSG",
	FrameReconnect: "RECONNECT",
	FrameClose:     "CLOSE",
}

func (t FrameType) String() string {
	if n, ok := frameNames[t]; ok {
		return n
	}
	return fmt.Sprintf("FRAME(%d)", uint8(t))
}

// MaxFrameSize bounds the CRC, type and payload of one frame.
const MaxFrameSize = 1 << 20

// Frame layout on the wire: [len:4][crc32:4][type:1][payload...], where
// len counts everything after itself and the CRC covers type and payload.
const frameHeaderSize = 4

// Frame is a decoded frame whose payload is still raw JSON.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return domain.ErrProtocol.WithDetails(fmt.Sprintf("%s: empty payload", f.Type))
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return domain.ErrProtocol.WithDetails(fmt.Sprintf("%s: bad payload", f.Type)).WithCause(err)
	}
	return nil
}

// ConnectMsg opens a route. The soliciting side sends it first.
type ConnectMsg struct {
	domain.PeerInfo
	User  string `json:"user,omitempty"`
	Pass  string `json:"pass,omitempty"`
	Token string `json:"token,omitempty"`
}

// ErrMsg carries a domain error code back to the peer before closing.
type ErrMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// InfoMsg is the gossip payload: the sender's established peers.
type InfoMsg struct {
	ServerName string      `json:"server_name"`
	Cluster    string      `json:"cluster"`
	Instance   string      `json:"instance"`
	Epoch      uint64      `json:"epoch"`
	Peers      []PeerEntry `json:"peers"`
}

// PeerEntry is one advertised peer in an InfoMsg.
type PeerEntry struct {
	ServerName string `json:"server_name"`
	Address    string `json:"address"`
}

// Message is application data carried over a route.
type Message struct {
	Subject string `json:"subject"`
	Reply   string `json:"reply,omitempty"`
	Data    []byte `json:"data,omitempty"`
}

// EncodeFrame builds a frame. A nil v produces an empty payload.
func EncodeFrame(t FrameType, v any) ([]byte, error) {
	var payload []byte
	if v != nil {
		var err error
		payload, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("route: marshal %s: %w", t, err)
		}
	}

	length := 4 + 1 + len(payload)
	if length > MaxFrameSize {
		return nil, domain.ErrProtocol.WithDetails(fmt.Sprintf("%s frame of %d bytes exceeds limit", t, length))
	}

	out := make([]byte, frameHeaderSize+length)
	binary.BigEndian.PutUint32(out[0:4], uint32(length))
	out[8] = byte(t)
	copy(out[9:], payload)
	binary.BigEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(out[8:]))
	return out, nil
}

// WriteFrame encodes and writes one frame.
func WriteFrame(w io.Writer, t FrameType, v any) error {
	buf, err := EncodeFrame(t, v)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame. io.EOF is returned unchanged when the peer
// closed the connection between frames; framing violations are protocol
// errors.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length < 5 || length > MaxFrameSize {
		return Frame{}, domain.ErrProtocol.WithDetails(fmt.Sprintf("invalid frame length %d", length))
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	want := binary.BigEndian.Uint32(body[0:4])
	if got := crc32.ChecksumIEEE(body[4:]); got != want {
		return Frame{}, domain.ErrProtocol.WithDetails("frame checksum mismatch")
	}

	t := FrameType(body[4])
	if _, ok := frameNames[t]; !ok {
		return Frame{}, domain.ErrProtocol.WithDetails(fmt.Sprintf("unknown frame type %d", body[4]))
	}

	return Frame{Type: t, Payload: body[5:]}, nil
}

// errFrame converts an error into the ERR payload sent to a peer.
func errFrame(err error) ErrMsg {
	var de *domain.DomainError
	if errors.As(err, &de) {
		msg := de.Message
		if de.Details != "" {
			msg = de.Details
		}
		return ErrMsg{Code: de.Code, Message: msg}
	}
	return ErrMsg{Code: domain.ErrProtocol.Code, Message: err.Error()}
}
