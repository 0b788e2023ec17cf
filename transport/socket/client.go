package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/connection"
	"mini-jsonrpc/message"

	"go.uber.org/zap"
)

// DefaultReconnectDelay is the pause before redialing after a transport error.
const DefaultReconnectDelay = 200 * time.Millisecond

// ClientOptions configures a dialing socket.
type ClientOptions struct {
	Options
	Address  string // host:port of the server
	Username string // Username and Password, when both are set, are sent in
	Password string // an "auth" handshake on every (re)connect

	// ReconnectDelay is waited after a socket closed with an error. A clean
	// close reconnects immediately. Zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration
	// DisableReconnect turns automatic reconnection off.
	DisableReconnect bool
	// Dialer opens the TCP connection; nil uses net.Dialer.
	Dialer func(ctx context.Context, network, address string) (net.Conn, error)
}

// Client is the dialing side of a socket. It survives the sockets beneath it:
// when one closes, pending calls fail with connection.ErrClosed and a new
// socket is dialed according to the reconnect policy.
//
// Reconnect policy:
//   - closed after a transport error → wait ReconnectDelay, then redial
//   - closed cleanly by the peer     → redial immediately
//   - closed by End                  → never redial
type Client struct {
	*connection.Core
	opts   ClientOptions
	logger *zap.Logger

	mu         sync.Mutex
	nc         net.Conn // Usable socket; nil until connected and authenticated
	live       net.Conn // Socket being read, possibly still handshaking
	running    bool     // A run loop owns the connection
	onEnd      []func()
	readyOnce  *sync.Once
	readyCh    chan error
	writeMu    sync.Mutex // Serializes writes so encoded values never interleave
	ended      atomic.Bool
	autoReconn atomic.Bool
	skipDelay  atomic.Bool
	wake       chan struct{} // Interrupts a reconnect delay
}

// Dial connects to opts.Address and, when credentials are configured,
// completes the auth handshake before returning.
func Dial(ctx context.Context, opts ClientOptions) (*Client, error) {
	c := newClient(opts)
	nc, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	ready := c.start(nc)

	select {
	case err := <-ready:
		if err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

func newClient(opts ClientOptions) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		d := &net.Dialer{}
		opts.Dialer = d.DialContext
	}
	c := &Client{
		opts: opts,
		wake: make(chan struct{}, 1),
	}
	c.Core = opts.core(c)
	c.logger = c.Core.Logger().With(zap.String("address", opts.Address))
	c.autoReconn.Store(!opts.DisableReconnect)
	return c
}

// start launches the run loop on an already dialed socket and returns a
// channel that reports the outcome of the first handshake.
func (c *Client) start(nc net.Conn) <-chan error {
	ch := make(chan error, 1)
	c.mu.Lock()
	c.running = true
	c.readyOnce = new(sync.Once)
	c.readyCh = ch
	c.mu.Unlock()
	go c.run(nc)
	return ch
}

func (c *Client) signalReady(err error) {
	c.mu.Lock()
	once, ch := c.readyOnce, c.readyCh
	c.mu.Unlock()
	if once != nil {
		once.Do(func() { ch <- err })
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	c.logger.Debug("dialing", zap.String("direction", "-->"))
	return c.opts.Dialer(ctx, "tcp", c.opts.Address)
}

// run owns the connection: it reads the current socket until it closes and
// then applies the reconnect policy.
func (c *Client) run(nc net.Conn) {
	for {
		if nc == nil {
			var err error
			nc, err = c.dial(c.Context())
			if err != nil {
				c.logger.Debug("dial failed", zap.Error(err))
				c.signalReady(err)
				if !c.retryAfter(err) && c.stop() {
					return
				}
				continue
			}
		}

		err := c.serve(nc)
		c.logger.Debug("socket closed", zap.Error(err))
		c.FailPending(err)
		c.signalReady(connection.ErrClosed)
		c.fireEnd()

		if !c.retryAfter(err) && c.stop() {
			return
		}
		nc = nil
	}
}

// stop releases ownership of the connection unless Reconnect asked for a new
// socket in the meantime.
func (c *Client) stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ended.Load() && c.skipDelay.Swap(false) {
		return false
	}
	c.running = false
	return true
}

// serve handshakes on nc and reads it until it closes.
func (c *Client) serve(nc net.Conn) error {
	c.mu.Lock()
	c.live = nc
	c.mu.Unlock()

	// The handshake request is written before the read loop starts, so a
	// disconnect can only resolve it through FailPending.
	if err := c.handshake(nc); err != nil {
		c.logger.Debug("handshake write failed", zap.Error(err))
	}

	err := readLoop(nc, c.logger, func(msg *message.Message) {
		c.HandleMessage(c.Context(), msg)
	})

	nc.Close()
	c.mu.Lock()
	c.live = nil
	if c.nc == nc {
		c.nc = nil
	}
	c.mu.Unlock()
	return err
}

// handshake sends the auth call on nc and publishes nc for writes once the
// server accepts it. Without credentials nc is published at once. Rejected
// credentials end the client: retrying with the same ones cannot succeed.
func (c *Client) handshake(nc net.Conn) error {
	if c.opts.Username == "" || c.opts.Password == "" {
		c.publish(nc)
		return nil
	}

	done := make(chan error, 1)
	id, err := c.Register(func(err error, _ json.RawMessage) { done <- err })
	if err != nil {
		return err
	}
	data, err := codec.EncodeRequest(AuthMethod, []string{c.opts.Username, c.opts.Password}, &id)
	if err == nil {
		c.logger.Debug("auth", zap.String("direction", "-->"), zap.Int64("id", id))
		err = c.writeTo(nc, data)
	}
	if err != nil {
		c.Forget(id)
		nc.Close()
		return err
	}

	go func() {
		err := <-done
		switch {
		case err == nil:
			c.publish(nc)
		case errors.Is(err, connection.ErrClosed):
			// Socket dropped mid-handshake; the run loop deals with it.
		default:
			c.logger.Warn("socket authentication rejected", zap.Error(err))
			c.ended.Store(true)
			c.signalReady(err)
			nc.Close()
		}
	}()
	return nil
}

func (c *Client) publish(nc net.Conn) {
	c.mu.Lock()
	published := c.live == nc
	if published {
		c.nc = nc
	}
	c.mu.Unlock()
	if published {
		c.logger.Debug("connected", zap.String("direction", "-->"))
		c.signalReady(nil)
	}
}

// retryAfter applies the reconnect policy to a socket that closed with err
// and reports whether to redial.
func (c *Client) retryAfter(err error) bool {
	if c.ended.Load() || !c.autoReconn.Load() || c.Closed() {
		return false
	}
	if c.skipDelay.Swap(false) || err == nil {
		return true
	}

	t := time.NewTimer(c.opts.ReconnectDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.wake:
		c.skipDelay.Store(false)
	case <-c.Context().Done():
		return false
	}
	return !c.ended.Load()
}

func (c *Client) fireEnd() {
	c.mu.Lock()
	callbacks := append([]func(){}, c.onEnd...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Warn("end callback panicked", zap.Any("panic", r))
				}
			}()
			fn()
		}()
	}
}

// Write sends one encoded message on the current socket. It fails with
// ErrNotConnected while no authenticated socket is available; a write the
// socket rejects is dropped, since the read loop will see the close.
func (c *Client) Write(data []byte) error {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil {
		return ErrNotConnected
	}
	if err := c.writeTo(nc, data); err != nil {
		c.logger.Debug("write to unwritable socket dropped", zap.Error(err))
	}
	return nil
}

func (c *Client) writeTo(nc net.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := nc.Write(data)
	return err
}

// Stream registers onEnd to run every time the underlying socket closes.
func (c *Client) Stream(onEnd func()) {
	if onEnd == nil {
		return
	}
	c.mu.Lock()
	c.onEnd = append(c.onEnd, onEnd)
	c.mu.Unlock()
}

// Connected reports whether a usable socket is available.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil
}

// SetAutoReconnect turns the reconnect policy on or off.
func (c *Client) SetAutoReconnect(on bool) {
	c.autoReconn.Store(on)
}

// End closes the socket and stops reconnecting. Pending calls fail with
// connection.ErrClosed. Reconnect revives the client.
func (c *Client) End() error {
	c.ended.Store(true)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	c.mu.Lock()
	live := c.live
	c.mu.Unlock()
	if live != nil {
		return live.Close()
	}
	return nil
}

// Ended reports whether End was called since the last Reconnect.
func (c *Client) Ended() bool { return c.ended.Load() }

// Reconnect drops the current socket, if any, and dials again at once. It
// also revives a client stopped by End or by a disabled reconnect policy.
func (c *Client) Reconnect() error {
	if c.Closed() {
		return connection.ErrClosed
	}
	c.ended.Store(false)
	c.skipDelay.Store(true)

	c.mu.Lock()
	if c.running {
		live := c.live
		c.mu.Unlock()
		select {
		case c.wake <- struct{}{}:
		default:
		}
		if live != nil {
			live.Close()
		}
		return nil
	}
	c.running = true
	c.mu.Unlock()

	c.skipDelay.Store(false)
	select {
	case <-c.wake:
	default:
	}
	go c.run(nil)
	return nil
}

// Close ends the client for good: the socket closes, pending calls fail and
// the connection context is cancelled.
func (c *Client) Close() error {
	err := c.End()
	c.Finish(nil)
	return err
}
