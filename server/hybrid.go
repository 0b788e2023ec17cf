package server

import (
	"context"
	"net"
	"sync"

	"mini-jsonrpc/connection"
	"mini-jsonrpc/middleware"
	"mini-jsonrpc/protocol"

	"go.uber.org/zap"
)

// ServeHybrid serves both carriers on ln. Each accepted connection is
// classified by its first byte: HTTP request lines go to an internal
// http.Server, everything else to the socket carrier.
//
//	Accept → go route(conn)
//	  → Sniff: 'A'..'Z' → httpLn.conns → http.Server
//	           otherwise → serveSocket
func (s *Server) ServeHybrid(ln net.Listener) error {
	s.logger.Info("server (hybrid) listening", zap.String("url", "socket://"+ln.Addr().String()+"/"))
	if !s.track(ln, nil) {
		return nil
	}
	defer s.untrack(ln, nil)

	httpLn := newChanListener(ln.Addr())
	defer httpLn.Close()
	go s.serveHTTP(httpLn)

	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.route(nc, httpLn)
	}
}

// route sniffs one connection and hands it, first chunk included, to the
// matching carrier.
func (s *Server) route(nc net.Conn, httpLn *chanListener) {
	kind, replay, err := protocol.Sniff(nc, s.opts.SniffTimeout)
	if err != nil {
		s.logger.Debug("dropping connection before first byte", zap.Error(err))
		nc.Close()
		return
	}
	s.logger.Debug("sniffed connection", zap.Stringer("kind", kind), zap.Stringer("remote", nc.RemoteAddr()))

	switch kind {
	case protocol.KindHTTP:
		if !httpLn.push(replay) {
			replay.Close()
		}
	default:
		s.serveSocket(replay)
	}
}

// chanListener is a net.Listener fed by the hybrid accept loop, so that
// net/http can serve connections it did not accept itself.
type chanListener struct {
	addr      net.Addr
	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func newChanListener(addr net.Addr) *chanListener {
	return &chanListener{
		addr:  addr,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
}

func (l *chanListener) push(c net.Conn) bool {
	select {
	case l.conns <- c:
		return true
	case <-l.done:
		return false
	}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *chanListener) Addr() net.Addr { return l.addr }

// reportErrors passes failed replies to fn before sending them.
func reportErrors(fn func(method string, err error)) middleware.Middleware {
	return func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, call *middleware.Call, reply connection.ReplyFunc) {
			next(ctx, call, func(err error, result any) {
				if err != nil {
					fn(call.Method, err)
				}
				reply(err, result)
			})
		}
	}
}
