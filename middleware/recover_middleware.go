package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"hippo4j-rpc/message"
)

// PanicError is the error carried by responses to a handler that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// RecoverMiddleware converts a panic in the handler into an error response, so a
// misbehaving target never tears down the connection.
func RecoverMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if v := recover(); v != nil {
					log.Warn("handler panicked", zap.String("key", req.Key), zap.Any("panic", v), zap.Stack("stack"))
					resp = message.NewErrorResponse(req, &PanicError{Value: v})
				}
			}()
			return next(ctx, req)
		}
	}
}
