package socket

import (
	"net"
	"sync"
	"sync/atomic"

	"mini-jsonrpc/auth"
	"mini-jsonrpc/connection"
	"mini-jsonrpc/message"

	"go.uber.org/zap"
)

// ServerOptions configures an accepted socket.
type ServerOptions struct {
	Options
	// Auth gates the connection until a valid "auth" call arrives. Nil
	// accepts every call straight away.
	Auth auth.Func
}

// ServerConn is the server's view of an accepted socket.
type ServerConn struct {
	*connection.Core
	nc     net.Conn
	logger *zap.Logger
	auth   auth.Func

	writeMu       sync.Mutex // Serializes writes so encoded values never interleave
	authenticated atomic.Bool
	ended         atomic.Bool
}

// NewServerConn wraps an accepted socket. Call Serve to start reading.
func NewServerConn(nc net.Conn, opts ServerOptions) *ServerConn {
	c := &ServerConn{nc: nc, auth: opts.Auth}
	c.Core = opts.core(c)
	c.logger = c.Core.Logger().With(zap.Stringer("remote", nc.RemoteAddr()))
	c.authenticated.Store(opts.Auth == nil)
	return c
}

// Serve reads and handles messages until the socket closes, then fails any
// calls still pending and runs end callbacks.
func (c *ServerConn) Serve() error {
	c.logger.Debug("accepted socket connection", zap.String("direction", "<--"))
	err := readLoop(c.nc, c.logger, c.handle)
	c.nc.Close()
	c.Finish(err)
	c.logger.Debug("socket connection closed", zap.Error(err))
	return err
}

func (c *ServerConn) handle(msg *message.Message) {
	if !c.authenticated.Load() {
		c.authenticate(msg)
		return
	}
	c.HandleMessage(c.Context(), msg)
}

// authenticate handles a message on a gated connection. Only a well-formed
// auth call can lift the gate; everything else is rejected and never
// dispatched. A failed attempt leaves the connection open for a retry.
func (c *ServerConn) authenticate(msg *message.Message) {
	if msg.Method != AuthMethod {
		c.logger.Debug("rejected unauthenticated call", zap.String("method", msg.Method))
		c.replyIfCall(msg, ErrUnauthorized, nil)
		return
	}

	params, ok := msg.ArrayParams()
	if ok && params.Len() == 2 {
		user, userOK := params.String(0)
		pass, passOK := params.String(1)
		if userOK && passOK && c.auth(user, pass) {
			c.authenticated.Store(true)
			c.logger.Debug("socket authenticated")
			c.replyIfCall(msg, nil, true)
			return
		}
	}
	c.logger.Info("socket authentication failed")
	c.replyIfCall(msg, ErrInvalidCredentials, nil)
}

func (c *ServerConn) replyIfCall(msg *message.Message, err error, result any) {
	if !msg.HasID() {
		return
	}
	if werr := c.SendReply(err, result, msg.ID); werr != nil {
		c.logger.Warn("failed to send auth reply", zap.Error(werr))
	}
}

// Authenticated reports whether the gate has been lifted.
func (c *ServerConn) Authenticated() bool { return c.authenticated.Load() }

// Write sends one encoded message. A peer that has gone away is not an
// error; the write is dropped.
func (c *ServerConn) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.nc.Write(data); err != nil {
		c.logger.Debug("write to unwritable socket dropped", zap.Error(err))
	}
	return nil
}

// End closes the socket. Serve returns once the read loop notices.
func (c *ServerConn) End() error {
	c.ended.Store(true)
	return c.nc.Close()
}

// Close is End.
func (c *ServerConn) Close() error {
	return c.End()
}

// Ended reports whether End was called.
func (c *ServerConn) Ended() bool { return c.ended.Load() }

// Reconnect always fails: only the dialing side can re-establish a socket.
func (c *ServerConn) Reconnect() error {
	return ErrServerReconnect
}

func (c *ServerConn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
