package handler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"hippo4j-rpc/message"
	"hippo4j-rpc/middleware"
	"hippo4j-rpc/rpcerr"
)

// KeyHandler serves key requests with a function bound at wiring time. No lookup
// happens per call: the handler accepts only requests whose Key equals its own and
// decodes exactly arity parameters into the function's argument types.
type KeyHandler struct {
	key    string
	arity  int
	call   func(req *message.Request) (any, error)
	invoke middleware.HandlerFunc
	log    *zap.Logger
}

var _ Dispatcher = (*KeyHandler)(nil)

func newKeyHandler(key string, arity int, call func(req *message.Request) (any, error), opts []Option) *KeyHandler {
	o := newOptions(opts)
	h := &KeyHandler{key: key, arity: arity, call: call, log: o.log}
	h.invoke = o.build(h.dispatch)
	return h
}

// Bind0 binds a function without arguments to key.
func Bind0[R any](key string, fn func() (R, error), opts ...Option) *KeyHandler {
	return newKeyHandler(key, 0, func(*message.Request) (any, error) {
		return fn()
	}, opts)
}

// Bind1 binds a one-argument function to key.
func Bind1[T, R any](key string, fn func(T) (R, error), opts ...Option) *KeyHandler {
	return newKeyHandler(key, 1, func(req *message.Request) (any, error) {
		var t T
		if err := req.Param(0, &t); err != nil {
			return nil, err
		}
		return fn(t)
	}, opts)
}

// Bind2 binds a two-argument function to key.
func Bind2[A, B, R any](key string, fn func(A, B) (R, error), opts ...Option) *KeyHandler {
	return newKeyHandler(key, 2, func(req *message.Request) (any, error) {
		var (
			a A
			b B
		)
		if err := req.Param(0, &a); err != nil {
			return nil, err
		}
		if err := req.Param(1, &b); err != nil {
			return nil, err
		}
		return fn(a, b)
	}, opts)
}

func (h *KeyHandler) Key() string { return h.key }

func (h *KeyHandler) Accept(msg any) bool {
	req, ok := msg.(*message.Request)
	return ok && req.IsKeyRequest() && req.Key == h.key
}

func (h *KeyHandler) Handle(ch Channel, msg any) {
	reply(ch, h.Dispatch(context.Background(), msg.(*message.Request)), h.log)
}

func (h *KeyHandler) Dispatch(ctx context.Context, req *message.Request) *message.Response {
	return h.invoke(ctx, req)
}

func (h *KeyHandler) dispatch(ctx context.Context, req *message.Request) *message.Response {
	if len(req.Parameters) != h.arity {
		return message.NewErrorResponse(req, &rpcerr.ConnectionError{
			Msg: fmt.Sprintf("%s expects %d parameters, got %d", h.key, h.arity, len(req.Parameters)),
		})
	}
	value, err := h.call(req)
	if err != nil {
		return message.NewErrorResponse(req, err)
	}
	resp, err := message.NewResponse(req, value)
	if err != nil {
		return message.NewErrorResponse(req, err)
	}
	return resp
}
