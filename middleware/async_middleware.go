package middleware

import (
	"context"

	"mini-jsonrpc/connection"
	"mini-jsonrpc/message"
)

// Async runs the rest of the chain on its own goroutine so that a blocking
// handler does not hold up the connection's read loop. Panics on that
// goroutine are turned into an internal-error reply.
func Async() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call, reply connection.ReplyFunc) {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						reply(message.InternalError(r), nil)
					}
				}()
				next(ctx, call, reply)
			}()
		}
	}
}
