package middleware

import (
	"context"

	"mini-jsonrpc/connection"

	"github.com/gorilla/rpc/v2/json2"
	"golang.org/x/time/rate"
)

// ErrRateLimited is replied to calls rejected by RateLimit.
var ErrRateLimited = &json2.Error{Code: json2.E_SERVER, Message: "rate limit exceeded"}

// RateLimit 创建一个基于令牌桶算法的限流中间件
// r is the sustained number of calls per second, burst the bucket size. The
// limiter is shared by every connection of the endpoint.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call, reply connection.ReplyFunc) {
			if !limiter.Allow() {
				reply(ErrRateLimited, nil)
				return
			}
			next(ctx, call, reply)
		}
	}
}
