package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequest,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("expect %d bytes on the wire, got %d", HeaderSize+len(body), buf.Len())
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decodedHeader.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decodedHeader.CodecType, header.CodecType)
	}
	if decodedHeader.MsgType != header.MsgType {
		t.Errorf("MsgType mismatch: got %s, want %s", decodedHeader.MsgType, header.MsgType)
	}
	if decodedHeader.BodyLen != uint32(len(body)) {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, len(body))
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", string(decodedBody), string(body))
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalidHeader := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, byte(MsgTypeRequest), 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalidHeader)
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("Expected error for invalid magic number, but got nil")
	}
	if !strings.Contains(err.Error(), "invalid magic number") {
		t.Errorf("Error message should contain 'invalid magic number', instead: %v", err)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	header := Header{
		CodecType: CodecTypeGob,
		MsgType:   MsgTypeHeartbeat,
	}
	var buf bytes.Buffer
	if err := Encode(&buf, &header, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decodedHeader.MsgType != MsgTypeHeartbeat {
		t.Errorf("MsgType mismatch: got %s, want %s", decodedHeader.MsgType, MsgTypeHeartbeat)
	}
	if decodedHeader.BodyLen != 0 || len(decodedBody) != 0 {
		t.Errorf("expect empty body, got length %d", len(decodedBody))
	}
}

func TestDecodeRejectsBadHeaderFields(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		want  string
	}{
		{"version", []byte{MagicByte1, MagicByte2, MagicByte3, 0xFF, CodecTypeJSON, 0, 0, 0, 0, 0}, "unsupported version"},
		{"codec", []byte{MagicByte1, MagicByte2, MagicByte3, Version, 9, 0, 0, 0, 0, 0}, "unsupported codec type"},
		{"msgType", []byte{MagicByte1, MagicByte2, MagicByte3, Version, CodecTypeJSON, 7, 0, 0, 0, 0}, "unsupported message type"},
	}

	for _, tc := range cases {
		_, _, err := Decode(bytes.NewReader(tc.frame))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expect error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	frame := []byte{MagicByte1, MagicByte2, MagicByte3, Version, CodecTypeJSON, byte(MsgTypeOneway), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(frame[6:10], MaxBodyLen+1)

	_, _, err := Decode(bytes.NewReader(frame))
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expect too large error, got %v", err)
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	header := &Header{CodecType: CodecTypeGob, MsgType: MsgTypeResponse}
	if err := Encode(&buf, header, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body mismatch")
	}
}
