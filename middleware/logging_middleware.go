package middleware

import (
	"context"
	"time"

	"mini-jsonrpc/connection"

	"go.uber.org/zap"
)

// Logging records the method, id, duration and error of every call once its
// reply is produced.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call, reply connection.ReplyFunc) {
			start := time.Now()
			next(ctx, call, func(err error, result any) {
				fields := []zap.Field{
					zap.String("method", call.Method),
					zap.ByteString("id", call.ID),
					zap.Duration("duration", time.Since(start)),
				}
				if err != nil {
					logger.Info("call failed", append(fields, zap.Error(err))...)
				} else {
					logger.Info("call served", fields...)
				}
				reply(err, result)
			})
		}
	}
}
