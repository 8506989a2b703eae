package handler

import (
	"context"

	"go.uber.org/zap"

	"hippo4j-rpc/logger"
	"hippo4j-rpc/message"
	"hippo4j-rpc/middleware"
	"hippo4j-rpc/registry"
)

// Dispatcher turns a request into a response without touching the network.
// Dispatch never returns nil and never panics: every failure becomes an error response.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *message.Request) *message.Response
}

type Option func(*options)

type options struct {
	middlewares     []middleware.Middleware
	log             *zap.Logger
	methodCacheSize int
}

func newOptions(opts []Option) *options {
	o := &options{methodCacheSize: registry.DefaultMethodCacheSize}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Named("handler")
	}
	return o
}

// WithMiddleware wraps dispatch in mws, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, mws...)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithMethodCacheSize bounds the reflective method cache.
func WithMethodCacheSize(n int) Option {
	return func(o *options) {
		o.methodCacheSize = n
	}
}

// build wraps dispatch in the configured middlewares, with panic recovery outermost.
func (o *options) build(dispatch middleware.HandlerFunc) middleware.HandlerFunc {
	mws := append([]middleware.Middleware{middleware.RecoverMiddleware(o.log)}, o.middlewares...)
	return middleware.Chain(mws...)(dispatch)
}

func reply(ch Channel, resp *message.Response, log *zap.Logger) {
	if err := ch.Write(resp); err != nil {
		log.Warn("write response failed",
			zap.String("key", resp.Key),
			zap.String("rid", resp.RID),
			zap.Stringer("remote", ch.RemoteAddr()),
			zap.Error(err))
	}
}
