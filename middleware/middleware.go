// Package middleware wraps dispatcher handlers in an onion of cross-cutting
// behaviour (logging, rate limiting, timeouts, panic recovery).
//
// Handlers here are asynchronous: they complete a call by invoking reply,
// possibly long after they return. Middlewares that care about the outcome
// wrap reply rather than inspecting a return value.
package middleware

import (
	"context"
	"encoding/json"

	"mini-jsonrpc/connection"
	"mini-jsonrpc/message"
)

// Call is an inbound invocation on its way to a handler.
type Call struct {
	Method string
	Params message.Params
	ID     json.RawMessage // Raw id as received; empty for notifications
	Conn   connection.Conn // Connection the call arrived on
}

type HandlerFunc func(ctx context.Context, call *Call, reply connection.ReplyFunc)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
//
//	Chain(A, B, C)(h) → A(B(C(h)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
