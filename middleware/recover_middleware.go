package middleware

import (
	"context"

	"mini-jsonrpc/connection"
	"mini-jsonrpc/message"

	"go.uber.org/zap"
)

// Recover turns a handler panic into an internal-error reply and logs the
// stack.
func Recover(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call, reply connection.ReplyFunc) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panicked",
						zap.String("method", call.Method),
						zap.Any("panic", r),
						zap.Stack("stack"))
					reply(message.InternalError(r), nil)
				}
			}()
			next(ctx, call, reply)
		}
	}
}
