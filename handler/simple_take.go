package handler

import (
	"reflect"

	"go.uber.org/zap"

	"hippo4j-rpc/logger"
	"hippo4j-rpc/message"
)

// SimpleTakeHandler consumes a single oneway message and then closes the
// connection it arrived on, whatever the outcome. It serves short-lived
// connect-send-disconnect exchanges.
type SimpleTakeHandler[T any] struct {
	consumer func(T)
	typeName string // "" accepts any payload type
	log      *zap.Logger
}

func NewSimpleTakeHandler[T any](consumer func(T)) *SimpleTakeHandler[T] {
	h := &SimpleTakeHandler[T]{consumer: consumer, log: logger.Named("handler")}
	if t := reflect.TypeFor[T](); t.Kind() != reflect.Interface {
		h.typeName = t.String()
	}
	return h
}

func (h *SimpleTakeHandler[T]) Accept(msg any) bool {
	o, ok := msg.(*message.Oneway)
	return ok && (h.typeName == "" || o.Type == h.typeName)
}

func (h *SimpleTakeHandler[T]) Handle(ch Channel, msg any) {
	defer ch.Close()
	defer func() {
		if v := recover(); v != nil {
			h.log.Warn("oneway consumer panicked", zap.Any("panic", v))
		}
	}()

	var v T
	if err := msg.(*message.Oneway).Decode(&v); err != nil {
		h.log.Warn("decode oneway payload failed", zap.Stringer("remote", ch.RemoteAddr()), zap.Error(err))
		return
	}
	h.consumer(v)
}
