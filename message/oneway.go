package message

import (
	"encoding/json"
	"fmt"
)

// Oneway is a fire-and-forget payload. Type is the sender-side Go type name.
type Oneway struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewOneway(v any) (*Oneway, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal oneway payload: %w", err)
	}
	return &Oneway{Type: TypeName(v), Payload: b}, nil
}

func (o *Oneway) Decode(v any) error {
	if isNull(o.Payload) {
		return nil
	}
	return json.Unmarshal(o.Payload, v)
}
