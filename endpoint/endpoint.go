// Package endpoint implements the dispatcher: a registry from method name to
// handler, and the call-execution boundary every inbound request crosses.
//
// Dispatch pipeline:
//
//	Connection.HandleMessage → Endpoint.HandleCall
//	  → middleware chain → lookup(method) → Handler(ctx, params, conn, reply)
//
// Handlers complete a call by invoking reply, either before returning or at
// any later time from another goroutine. A panic inside the handler's
// synchronous portion is caught here and replied as an internal error.
package endpoint

import (
	"context"
	"sort"
	"strings"
	"sync"

	"mini-jsonrpc/connection"
	"mini-jsonrpc/message"
	"mini-jsonrpc/middleware"

	"go.uber.org/zap"
)

// Handler serves one method. It must eventually call reply exactly once.
type Handler func(ctx context.Context, params message.Params, conn connection.Conn, reply connection.ReplyFunc)

// Func adapts a synchronous function into a Handler.
func Func(fn func(ctx context.Context, params message.Params) (any, error)) Handler {
	return func(ctx context.Context, params message.Params, _ connection.Conn, reply connection.ReplyFunc) {
		result, err := fn(ctx, params)
		reply(err, result)
	}
}

// Endpoint is a method registry shared by every connection of a server or
// client. It is safe to register methods while serving.
type Endpoint struct {
	logger *zap.Logger

	mu          sync.RWMutex
	functions   map[string]Handler      // "math.power" → handler
	middlewares []middleware.Middleware // Applied in registration order
	handler     middleware.HandlerFunc  // middleware(middleware(...(invoke)))
}

var _ connection.Dispatcher = (*Endpoint)(nil)

// New creates an Endpoint with no methods. A nil logger disables logging.
func New(logger *zap.Logger) *Endpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Endpoint{
		logger:    logger,
		functions: make(map[string]Handler),
	}
	e.handler = e.invoke
	return e
}

// Logger returns the endpoint's logger.
func (e *Endpoint) Logger() *zap.Logger { return e.logger }

// Expose registers h under name, replacing any previous handler.
func (e *Endpoint) Expose(name string, h Handler) {
	e.mu.Lock()
	e.functions[name] = h
	e.mu.Unlock()
	e.logger.Debug("exposing", zap.String("method", name))
}

// ExposeModule registers every handler in funcs as prefix.name.
func (e *Endpoint) ExposeModule(prefix string, funcs map[string]Handler) {
	names := make([]string, 0, len(funcs))
	e.mu.Lock()
	for name, h := range funcs {
		if h == nil {
			continue
		}
		e.functions[prefix+"."+name] = h
		names = append(names, name)
	}
	e.mu.Unlock()
	sort.Strings(names)
	e.logger.Debug("exposing module", zap.String("module", prefix), zap.Strings("funcs", names))
}

// Use appends a middleware to the dispatch chain.
func (e *Endpoint) Use(mws ...middleware.Middleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.middlewares = append(e.middlewares, mws...)
	e.handler = middleware.Chain(e.middlewares...)(e.invoke)
}

// Methods lists the registered method names in order.
func (e *Endpoint) Methods() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.functions))
	for name := range e.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the handler registered under name.
func (e *Endpoint) Lookup(name string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.functions[name]
	return h, ok
}

// HandleCall runs msg through the middleware chain and its handler. Unknown
// methods and handler panics are reported through reply, never raised.
func (e *Endpoint) HandleCall(ctx context.Context, msg *message.Message, conn connection.Conn, reply connection.ReplyFunc) {
	call := &middleware.Call{
		Method: msg.Method,
		Params: msg.PositionalParams(),
		ID:     msg.ID,
		Conn:   conn,
	}
	e.logger.Debug("request", zap.String("direction", "<--"), zap.String("method", call.Method),
		zap.ByteString("id", call.ID), zap.Int("params", call.Params.Len()))

	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("handler panicked", zap.String("method", call.Method), zap.Any("panic", r))
			reply(message.InternalError(r), nil)
		}
	}()
	h(ctx, call, reply)
}

func (e *Endpoint) invoke(ctx context.Context, call *middleware.Call, reply connection.ReplyFunc) {
	h, ok := e.Lookup(call.Method)
	if !ok {
		reply(message.MethodNotFound(call.Method), nil)
		return
	}
	h(ctx, call.Params, call.Conn, reply)
}

// methodName lower-cases the first letter of an exported Go method name.
func methodName(goName string) string {
	if goName == "" {
		return goName
	}
	return strings.ToLower(goName[:1]) + goName[1:]
}
