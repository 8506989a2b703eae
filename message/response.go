package message

import (
	"encoding/json"
	"fmt"

	"hippo4j-rpc/rpcerr"
)

// Response answers one Request.
//
// A successful response with an empty or null Obj is a valid void result.
// A timeout never produces a Response.
type Response struct {
	RID    string          `json:"rid"`
	Key    string          `json:"key"`
	Cls    string          `json:"cls,omitempty"` // payload type, or error type when Failed
	Obj    json.RawMessage `json:"obj,omitempty"`
	ErrMsg string          `json:"errMsg,omitempty"`
	Failed bool            `json:"failed,omitempty"`
}

// NewResponse wraps obj as the successful result of req.
func NewResponse(req *Request, obj any) (*Response, error) {
	resp := &Response{RID: req.RID, Key: req.Key, Cls: TypeName(obj)}
	if obj == nil {
		return resp, nil
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal result of %s: %w", req.Key, err)
	}
	resp.Obj = b
	return resp, nil
}

// NewErrorResponse wraps err as the failed result of req.
func NewErrorResponse(req *Request, err error) *Response {
	resp := &Response{Failed: true, Cls: fmt.Sprintf("%T", err), ErrMsg: err.Error()}
	if req != nil {
		resp.RID, resp.Key = req.RID, req.Key
	}
	return resp
}

func (r *Response) IsErr() bool { return r.Failed }

// IsVoid reports a successful response without payload.
func (r *Response) IsVoid() bool { return !r.Failed && isNull(r.Obj) }

// Decode unmarshals the payload into v. Void responses leave v untouched.
func (r *Response) Decode(v any) error {
	if r.Failed {
		return r.Err()
	}
	if isNull(r.Obj) || v == nil {
		return nil
	}
	return json.Unmarshal(r.Obj, v)
}

// Err returns the remote failure, or nil for a successful response.
func (r *Response) Err() error {
	if !r.Failed {
		return nil
	}
	return &rpcerr.RemoteInvocationError{Key: r.Key, Type: r.Cls, Message: r.ErrMsg}
}
