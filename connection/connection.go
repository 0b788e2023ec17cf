// Package connection implements the carrier-independent half of a JSON-RPC link.
//
// A Core owns the pending-call table: every outbound call that expects a reply
// is assigned a fresh id and its callback is parked under that id until the
// peer's response arrives. Responses are matched strictly by id, never by
// arrival order, so many calls can be outstanding on one link at once.
//
//	Call("add", [1,2], cb) ──id=1──┐
//	Call("mul", [3,4], cb) ──id=2──┼──→ Write ──→ peer
//	Notify("log", ["hi"])  ──no id─┘
//
//	HandleMessage: ←── {"result":12,"id":2} → pending[2] → cb(nil, 12)
//
// Carriers (socket, HTTP) embed a *Core and supply the Write primitive.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/message"

	"go.uber.org/zap"
)

var (
	// ErrUnsupported is returned by Write on a connection type that cannot send.
	ErrUnsupported = errors.New("unsupported connection type")
	// ErrClosed is delivered to every call still pending when the link goes down.
	ErrClosed = errors.New("connection closed")
)

// ResponseFunc receives the outcome of an outbound call. err is a
// *message.RemoteError or *json2.Error for failures reported by the peer, or
// a transport error wrapping ErrClosed.
type ResponseFunc func(err error, result json.RawMessage)

// ReplyFunc completes an inbound call. A non-nil err is sent to the peer as a
// string; result is encoded as JSON.
type ReplyFunc func(err error, result any)

// Dispatcher resolves inbound calls. It must invoke reply exactly once, now or
// later, and must not let a handler panic escape.
type Dispatcher interface {
	HandleCall(ctx context.Context, msg *message.Message, conn Conn, reply ReplyFunc)
}

// Conn is one logical link to a peer.
type Conn interface {
	// Call sends a request and parks cb until the reply arrives. A nil cb
	// sends a notification instead.
	Call(method string, params any, cb ResponseFunc) error
	Notify(method string, params any) error
	// Invoke is Call that waits for the reply.
	Invoke(ctx context.Context, method string, params any) (json.RawMessage, error)
	HandleMessage(ctx context.Context, msg *message.Message)
	// Write transmits one encoded message.
	Write(data []byte) error
	SendReply(err error, result any, id json.RawMessage) error
	// Stream registers onEnd to run when the link closes. Carriers that close
	// after the first reply (HTTP) stay open once Stream is called.
	Stream(onEnd func())
	Context() context.Context
	Close() error
}

// Options configures a Core.
type Options struct {
	Dispatcher Dispatcher      // Resolves inbound calls; nil answers every call with "method not found"
	Logger     *zap.Logger     // Defaults to a no-op logger
	Context    context.Context // Parent of the connection context; defaults to context.Background()
}

var _ Conn = (*Core)(nil)

// Core implements the pending-call table and message routing shared by every
// carrier. The zero value is not usable; construct with NewCore or New.
type Core struct {
	self       Conn // Outermost connection; receives Write and SendReply
	dispatcher Dispatcher
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc

	mu      sync.Mutex
	pending map[int64]ResponseFunc // Call id → callback awaiting its reply
	nextID  int64                  // Last id handed out; ids start at 1 and never repeat
	onEnd   []func()
	closed  bool
}

// NewCore returns a Core that routes writes through self. Carriers call it
// with their own value so that Call and SendReply reach the carrier's Write.
func NewCore(self Conn, opts Options) *Core {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	c := &Core{
		self:       self,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
		pending:    make(map[int64]ResponseFunc),
	}
	c.ctx, c.cancel = context.WithCancel(opts.Context)
	if c.self == nil {
		c.self = c
	}
	return c
}

// New returns a bare connection with no carrier. Its Write always fails with
// ErrUnsupported.
func New(opts Options) *Core {
	return NewCore(nil, opts)
}

// Logger returns the connection's logger.
func (c *Core) Logger() *zap.Logger { return c.logger }

// Context is cancelled when the connection finishes.
func (c *Core) Context() context.Context { return c.ctx }

func (c *Core) Write(data []byte) error {
	return ErrUnsupported
}

func (c *Core) Call(method string, params any, cb ResponseFunc) error {
	_, err := c.call(method, params, cb)
	return err
}

func (c *Core) Notify(method string, params any) error {
	_, err := c.call(method, params, nil)
	return err
}

// call registers cb before writing so that a reply racing the write is never
// lost, and removes it again if the write fails.
func (c *Core) call(method string, params any, cb ResponseFunc) (int64, error) {
	var idp *int64
	var id int64
	if cb != nil {
		var err error
		if id, err = c.Register(cb); err != nil {
			return 0, err
		}
		idp = &id
	}

	data, err := codec.EncodeRequest(method, params, idp)
	if err == nil {
		c.logger.Debug("call", zap.String("direction", "-->"), zap.String("method", method), zap.Int64("id", id))
		err = c.self.Write(data)
	}
	if err != nil {
		if idp != nil {
			c.Forget(id)
		}
		return 0, err
	}
	return id, nil
}

func (c *Core) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	id, err := c.call(method, params, func(err error, result json.RawMessage) {
		done <- outcome{result, err}
	})
	if err != nil {
		return nil, err
	}
	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		c.Forget(id)
		return nil, ctx.Err()
	}
}

// HandleMessage routes one decoded inbound message. Responses resolve their
// pending call; calls go to the Dispatcher. A response whose id matches
// nothing outstanding is dropped.
func (c *Core) HandleMessage(ctx context.Context, msg *message.Message) {
	if msg == nil {
		return
	}
	if msg.IsResponse() {
		if id, ok := msg.IntID(); ok {
			if cb := c.take(id); cb != nil {
				c.deliver(id, cb, message.DecodeError(msg.Error), msg.Result)
				return
			}
		}
		if !msg.IsCall() {
			c.logger.Debug("dropped unmatched response", zap.String("direction", "<--"), zap.ByteString("id", msg.ID))
			return
		}
	}
	if msg.IsCall() {
		c.dispatch(ctx, msg)
	}
}

func (c *Core) dispatch(ctx context.Context, msg *message.Message) {
	c.logger.Debug("request", zap.String("direction", "<--"), zap.String("method", msg.Method), zap.ByteString("id", msg.ID))
	reply := c.ReplyTo(msg)
	if c.dispatcher == nil {
		reply(message.MethodNotFound(msg.Method), nil)
		return
	}
	c.dispatcher.HandleCall(ctx, msg, c.self, reply)
}

// ReplyTo returns the completion callback for an inbound call. Only the first
// invocation has any effect. Notifications never get a reply, whatever the
// outcome.
func (c *Core) ReplyTo(msg *message.Message) ReplyFunc {
	var replied atomic.Bool
	hasID := msg.HasID()
	return func(err error, result any) {
		if !replied.CompareAndSwap(false, true) {
			c.logger.Warn("reply already sent", zap.String("method", msg.Method), zap.ByteString("id", msg.ID))
			return
		}
		if err != nil {
			c.logger.Debug("failure", zap.String("direction", "-->"), zap.String("method", msg.Method),
				zap.ByteString("id", msg.ID), zap.Error(err))
		}
		if !hasID {
			return
		}
		if err == nil {
			c.logger.Debug("response", zap.String("direction", "-->"), zap.String("method", msg.Method), zap.ByteString("id", msg.ID))
		}
		if werr := c.self.SendReply(err, result, msg.ID); werr != nil {
			c.logger.Warn("failed to send reply", zap.String("method", msg.Method), zap.ByteString("id", msg.ID), zap.Error(werr))
		}
	}
}

// SendReply builds a Response and writes it. err is stringified.
func (c *Core) SendReply(err error, result any, id json.RawMessage) error {
	data, encErr := codec.EncodeResponse(err, result, id)
	if encErr != nil {
		return encErr
	}
	return c.self.Write(data)
}

func (c *Core) Stream(onEnd func()) {
	if onEnd == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		onEnd()
		return
	}
	c.onEnd = append(c.onEnd, onEnd)
	c.mu.Unlock()
}

// Close finishes the connection. Carriers override it to also release the
// transport.
func (c *Core) Close() error {
	c.Finish(nil)
	return nil
}

// Pending reports how many calls are waiting for a reply.
func (c *Core) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// FailPending resolves every outstanding call with ErrClosed, wrapping cause
// when there is one. The connection stays usable for new calls.
func (c *Core) FailPending(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]ResponseFunc)
	c.mu.Unlock()

	err := ErrClosed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrClosed, cause)
	}
	for id, cb := range pending {
		c.deliver(id, cb, err, nil)
	}
}

// Finish marks the connection closed: pending calls fail, new calls are
// refused, the context is cancelled and end callbacks run once.
func (c *Core) Finish(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onEnd := c.onEnd
	c.onEnd = nil
	c.mu.Unlock()

	c.FailPending(cause)
	c.cancel()
	for _, fn := range onEnd {
		c.safely("end callback", fn)
	}
}

// Closed reports whether Finish has run.
func (c *Core) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Register parks cb under a fresh id for a request the carrier writes itself.
// The entry is resolved by a matching response or by FailPending.
func (c *Core) Register(cb ResponseFunc) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	c.nextID++
	c.pending[c.nextID] = cb
	return c.nextID, nil
}

// Forget drops a pending entry without invoking it.
func (c *Core) Forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Core) take(id int64) ResponseFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return cb
}

// deliver runs a call callback. A panicking callback is logged and must not
// take the read loop down with it.
func (c *Core) deliver(id int64, cb ResponseFunc, err error, result json.RawMessage) {
	c.safely("callback", func() { cb(err, result) }, zap.Int64("id", id))
}

func (c *Core) safely(what string, fn func(), fields ...zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn(what+" panicked", append(fields, zap.Any("panic", r))...)
		}
	}()
	fn()
}
