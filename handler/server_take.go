package handler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"hippo4j-rpc/message"
	"hippo4j-rpc/middleware"
	"hippo4j-rpc/registry"
)

// ServerTakeHandler serves reflective requests: the class name is looked up in the
// ClassRegistry, the method is resolved by name and parameter types, and it is
// invoked on the receiver supplied by the Instance provider.
type ServerTakeHandler struct {
	classes  *registry.ClassRegistry
	instance registry.Instance
	methods  *registry.MethodCache
	invoke   middleware.HandlerFunc
	log      *zap.Logger
}

var _ Dispatcher = (*ServerTakeHandler)(nil)

func NewServerTakeHandler(classes *registry.ClassRegistry, instance registry.Instance, opts ...Option) (*ServerTakeHandler, error) {
	o := newOptions(opts)
	methods, err := registry.NewMethodCache(o.methodCacheSize)
	if err != nil {
		return nil, err
	}
	h := &ServerTakeHandler{
		classes:  classes,
		instance: instance,
		methods:  methods,
		log:      o.log,
	}
	h.invoke = o.build(h.dispatch)
	return h, nil
}

func (h *ServerTakeHandler) Accept(msg any) bool {
	req, ok := msg.(*message.Request)
	return ok && !req.IsKeyRequest()
}

func (h *ServerTakeHandler) Handle(ch Channel, msg any) {
	req := msg.(*message.Request)
	reply(ch, h.Dispatch(context.Background(), req), h.log)
}

func (h *ServerTakeHandler) Dispatch(ctx context.Context, req *message.Request) *message.Response {
	return h.invoke(ctx, req)
}

func (h *ServerTakeHandler) dispatch(ctx context.Context, req *message.Request) *message.Response {
	cls, ok := h.classes.Get(req.ClassName)
	if !ok {
		return message.NewErrorResponse(req, fmt.Errorf("class %s is not registered", req.ClassName))
	}
	method, err := h.methods.Lookup(cls, req.MethodName, req.ParameterTypes)
	if err != nil {
		return message.NewErrorResponse(req, err)
	}
	args, err := method.DecodeArgs(req)
	if err != nil {
		return message.NewErrorResponse(req, err)
	}
	receiver, err := h.instance.GetInstance(cls)
	if err != nil {
		return message.NewErrorResponse(req, err)
	}

	value, err := method.Call(receiver, args)
	if err != nil {
		return message.NewErrorResponse(req, err)
	}
	resp, err := message.NewResponse(req, value)
	if err != nil {
		return message.NewErrorResponse(req, err)
	}
	return resp
}
