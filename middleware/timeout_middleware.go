package middleware

import (
	"context"
	"sync/atomic"
	"time"

	"mini-jsonrpc/connection"

	"github.com/gorilla/rpc/v2/json2"
)

// ErrTimeout is replied to calls whose handler did not finish in time.
var ErrTimeout = &json2.Error{Code: json2.E_SERVER, Message: "request timed out"}

// Timeout replies with ErrTimeout if the handler has not replied within
// timeout. The handler's context is cancelled at that point and its late
// reply is discarded. A handler that panics gets no timeout reply.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call, reply connection.ReplyFunc) {
			ctx, cancel := context.WithCancel(ctx)

			var done atomic.Bool
			finish := func(err error, result any) {
				if !done.CompareAndSwap(false, true) {
					return
				}
				cancel()
				reply(err, result)
			}

			timer := time.AfterFunc(timeout, func() { finish(ErrTimeout, nil) })
			// A panic is left to an outer Recover or the endpoint to answer.
			defer func() {
				if r := recover(); r != nil {
					timer.Stop()
					done.Store(true)
					cancel()
					panic(r)
				}
			}()
			next(ctx, call, func(err error, result any) {
				timer.Stop()
				finish(err, result)
			})
		}
	}
}
