package codec

import (
	"encoding/json"
)

// JSONCodec is the default codec: readable on the wire and easy to debug.
// Request parameters are already JSON, so they pass through as raw messages.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
