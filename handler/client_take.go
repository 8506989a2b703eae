package handler

import (
	"go.uber.org/zap"

	"hippo4j-rpc/logger"
	"hippo4j-rpc/message"
	"hippo4j-rpc/result"
)

// ClientTakeHandler sits on the client side of a connection and hands every
// inbound response to the waiter registered for its RID.
type ClientTakeHandler struct {
	holder *result.Holder
	log    *zap.Logger
}

func NewClientTakeHandler(holder *result.Holder) *ClientTakeHandler {
	return &ClientTakeHandler{holder: holder, log: logger.Named("handler")}
}

func (h *ClientTakeHandler) Accept(msg any) bool {
	_, ok := msg.(*message.Response)
	return ok
}

func (h *ClientTakeHandler) Handle(ch Channel, msg any) {
	resp := msg.(*message.Response)
	if !h.holder.Signal(resp.RID, resp) {
		h.log.Debug("drop response without waiter", zap.String("key", resp.Key), zap.String("rid", resp.RID))
	}
}
