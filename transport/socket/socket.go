// Package socket implements the raw TCP carrier: a persistent duplex stream of
// concatenated JSON values in both directions.
//
// Either peer may call the other at any time. Each socket has a single read
// goroutine feeding one Stream Decoder, so messages are handled in arrival
// order, while the pending-call table lets calls in both directions complete
// out of order.
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ single TCP conn ──→ peer
//	handler     ──reply(id=7)─┘
//
//	readLoop: ←── {"result":..,"id":2} → pending[2] → callback of goroutine-2
package socket

import (
	"context"
	"errors"
	"net"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/connection"
	"mini-jsonrpc/message"

	"go.uber.org/zap"
)

// AuthMethod is the handshake method accepted before authentication.
const AuthMethod = "auth"

var (
	// ErrNotConnected is returned by client writes while no authenticated
	// socket is available (dialing, reconnecting or ended).
	ErrNotConnected = errors.New("socket: not connected")
	// ErrUnauthorized is replied to calls made before a successful handshake.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is replied to a rejected auth call.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrServerReconnect is returned by Reconnect on accepted connections.
	ErrServerReconnect = errors.New("cannot reconnect a connection from the server-side")
)

// Options is shared by both ends of the carrier.
type Options struct {
	Dispatcher connection.Dispatcher // Resolves calls from the peer
	Logger     *zap.Logger
	Context    context.Context // Parent of the connection context
}

func (o Options) core(self connection.Conn) *connection.Core {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return connection.NewCore(self, connection.Options{
		Dispatcher: o.Dispatcher,
		Logger:     o.Logger,
		Context:    o.Context,
	})
}

// readLoop decodes nc until it fails and hands every message to handle.
// Malformed input is logged and skipped. It returns nil on a clean close.
//
// Why a single goroutine for reading? The stream has no framing beyond JSON
// nesting, so bytes must be fed to the decoder strictly in order.
func readLoop(nc net.Conn, logger *zap.Logger, handle func(*message.Message)) error {
	for v, err := range codec.Stream(nc) {
		if err != nil {
			if codec.IsDecodeError(err) {
				logger.Warn("dropping malformed input", zap.String("direction", "<--"), zap.Error(err))
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		msg, err := codec.DecodeMessage(v)
		if err != nil {
			logger.Warn("dropping value that is not a message", zap.String("direction", "<--"), zap.Error(err))
			continue
		}
		handle(msg)
	}
	return nil
}
