package message

import (
	"encoding/json"
	"fmt"
)

// Request is one remote call.
//
// Key is the logical call key: for proxy calls it is derived from
// address + interface + method, for key requests it is the name of the bound
// function. RID is unique per Request value and is what responses are matched on.
// Two requests with the same Key are the same logical call; see Equal.
type Request struct {
	RID            string            `json:"rid"`
	Key            string            `json:"key"`
	ClassName      string            `json:"className,omitempty"`
	MethodName     string            `json:"methodName,omitempty"`
	ParameterTypes []string          `json:"parameterTypes,omitempty"`
	Parameters     []json.RawMessage `json:"parameters,omitempty"`
}

// NewRequest builds a reflective request for className.methodName.
func NewRequest(key, className, methodName string, params ...any) (*Request, error) {
	types, raws, err := marshalAll(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters of %s.%s: %w", className, methodName, err)
	}
	return &Request{
		RID:            NewRID(),
		Key:            key,
		ClassName:      className,
		MethodName:     methodName,
		ParameterTypes: types,
		Parameters:     raws,
	}, nil
}

// NewKeyRequest builds a request routed by key to a function bound on the server.
func NewKeyRequest(key string, params ...any) (*Request, error) {
	types, raws, err := marshalAll(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters of %s: %w", key, err)
	}
	return &Request{
		RID:            NewRID(),
		Key:            key,
		ParameterTypes: types,
		Parameters:     raws,
	}, nil
}

// IsKeyRequest reports whether r carries no class or method and is routed by Key alone.
func (r *Request) IsKeyRequest() bool {
	return r.ClassName == "" && r.MethodName == ""
}

// Param decodes the i-th parameter into v. A null parameter leaves v untouched.
func (r *Request) Param(i int, v any) error {
	if i < 0 || i >= len(r.Parameters) {
		return fmt.Errorf("parameter %d out of range [0,%d)", i, len(r.Parameters))
	}
	if isNull(r.Parameters[i]) {
		return nil
	}
	return json.Unmarshal(r.Parameters[i], v)
}

// Equal compares requests by Key only.
func (r *Request) Equal(o *Request) bool {
	if r == o {
		return true
	}
	if r == nil || o == nil {
		return false
	}
	return r.Key == o.Key
}

func (r *Request) String() string {
	if r.IsKeyRequest() {
		return fmt.Sprintf("Request{rid=%s key=%s params=%d}", r.RID, r.Key, len(r.Parameters))
	}
	return fmt.Sprintf("Request{rid=%s key=%s %s.%s params=%d}", r.RID, r.Key, r.ClassName, r.MethodName, len(r.Parameters))
}
