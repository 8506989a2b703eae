package codec

import (
	"bytes"
	"encoding/gob"
)

// GobCodec uses encoding/gob. Each body is a self-contained gob stream, so frames
// can be decoded independently of the ones before them.
type GobCodec struct{}

func (c *GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *GobCodec) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (c *GobCodec) Type() CodecType {
	return CodecTypeGob
}
