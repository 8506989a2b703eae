// Package protocol implements the binary frame used between hippo4j-rpc peers.
//
// A fixed 10-byte header precedes a variable-length body, so the receiver reads the
// header first and then exactly BodyLen bytes. This keeps message boundaries intact
// on a TCP byte stream.
//
// Frame format:
//
//	0      3  4  5  6          10
//	┌──────┬──┬──┬──┬──────────┬───────────────┐
//	│magic │v │ct│mt│ bodyLen  │    body ...    │
//	│ h4j  │01│  │  │ uint32   │ bodyLen bytes  │
//	└──────┴──┴──┴──┴──────────┴───────────────┘
//
// Unlike a multiplexed transport there is no sequence number in the header: a pooled
// connection carries one call at a time, and responses are matched by the RID inside
// the body.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "h4j". A peer speaking anything else is rejected on the first frame.
const (
	MagicByte1 byte = 0x68 // 'h'
	MagicByte2 byte = 0x34 // '4'
	MagicByte3 byte = 0x6a // 'j'
	Version    byte = 0x01
	HeaderSize int  = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame body.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType selects how the body is decoded.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // call, answered by a response
	MsgTypeResponse  MsgType = 1 // answer to a request
	MsgTypeHeartbeat MsgType = 2 // keepalive probe, no body
	MsgTypeOneway    MsgType = 3 // fire-and-forget payload, never answered
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeHeartbeat:
		return "heartbeat"
	case MsgTypeOneway:
		return "oneway"
	}
	return fmt.Sprintf("MsgType(%d)", byte(t))
}

// Codec type constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON byte = 0
	CodecTypeGob  byte = 1
)

// Header is the fixed frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	BodyLen   uint32
}

// Encode writes a complete frame to w in a single Write call.
// Callers sharing w between goroutines must serialize calls.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodyLen {
		return fmt.Errorf("frame body too large: %d bytes", len(body))
	}
	buf := make([]byte, HeaderSize+len(body))

	buf[0], buf[1], buf[2] = MagicByte1, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads one complete frame from r, validating every header field.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeGob {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeOneway {
		return nil, nil, fmt.Errorf("unsupported message type: %d", headerBuf[5])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("frame body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		BodyLen:   bodyLen,
	}, body, nil
}
