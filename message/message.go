// Package message defines the values exchanged between client and server.
//
// Three message kinds travel on the wire, each in its own frame type:
//
//   - Request:  a call. Either reflective (ClassName + MethodName) or key-only,
//     where Key names a function bound on the server.
//   - Response: the answer to exactly one Request, matched by RID.
//   - Oneway:   a fire-and-forget payload, never answered.
//
// Parameters and payloads are carried as JSON in explicit fields, so every codec
// that serializes the envelope keeps them intact.
package message

import (
	"encoding/json"
	"reflect"
	"strings"

	uuid "github.com/satori/go.uuid"
)

// NewRID returns a fresh correlation id.
func NewRID() string {
	return strings.ReplaceAll(uuid.NewV4().String(), "-", "")
}

// TypeName returns the Go type name of v, or "" for nil.
func TypeName(v any) string {
	if v == nil {
		return ""
	}
	return reflect.TypeOf(v).String()
}

func marshalAll(values []any) ([]string, []json.RawMessage, error) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	types := make([]string, len(values))
	raws := make([]json.RawMessage, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, nil, err
		}
		types[i] = TypeName(v)
		raws[i] = b
	}
	return types, raws, nil
}

// isNull reports whether raw carries no value.
func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
