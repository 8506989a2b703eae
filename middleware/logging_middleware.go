package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hippo4j-rpc/message"
)

// LoggingMiddleware logs every dispatched request with its duration.
// Failed calls are logged at warn level.
func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("key", req.Key),
				zap.String("rid", req.RID),
				zap.Duration("duration", time.Since(start)),
			}
			if req.MethodName != "" {
				fields = append(fields, zap.String("method", req.ClassName+"."+req.MethodName))
			}
			if resp != nil && resp.IsErr() {
				log.Warn("dispatch failed", append(fields, zap.String("error", resp.ErrMsg))...)
			} else {
				log.Debug("dispatched", fields...)
			}
			return resp
		}
	}
}
