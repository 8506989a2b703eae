package middleware

import (
	"context"
	"time"

	"hippo4j-rpc/message"
	"hippo4j-rpc/rpcerr"
)

// TimeOutMiddleware answers with a timeout error response when the handler runs
// longer than timeout. The handler keeps running; its late result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewErrorResponse(req, &rpcerr.TimeoutError{Op: "dispatch", Key: req.Key, After: timeout})
			}
		}
	}
}
