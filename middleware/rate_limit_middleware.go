package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"hippo4j-rpc/message"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware rejects requests beyond r per second with the given burst,
// using a token bucket shared by every connection of the server.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.NewErrorResponse(req, ErrRateLimited)
			}
			return next(ctx, req)
		}
	}
}
