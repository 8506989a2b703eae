// Package codec serializes message bodies. The codec type travels in every frame
// header, so a peer can always decode what it receives.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeGob  CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeGob:
		return "gob"
	}
	return fmt.Sprintf("CodecType(%d)", byte(t))
}

// ParseType maps a codec name to its type.
func ParseType(name string) (CodecType, error) {
	switch name {
	case "json", "":
		return CodecTypeJSON, nil
	case "gob":
		return CodecTypeGob, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}, nil
	case CodecTypeGob:
		return &GobCodec{}, nil
	}
	return nil, fmt.Errorf("unsupported codec type: %d", byte(codecType))
}
