// Package middleware wraps server-side dispatch in an onion of decorators:
//
//	Chain(A, B, C)(dispatch) == A(B(C(dispatch)))
//	A.before → B.before → C.before → dispatch → C.after → B.after → A.after
//
// Every middleware must return a Response echoing the request's RID and Key, even
// when it short-circuits, so the caller's waiter is still woken.
package middleware

import (
	"context"

	"hippo4j-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
