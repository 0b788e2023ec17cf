// Package server implements the JSON-RPC server endpoint: a method registry
// served over HTTP, over raw sockets, or over both on one hybrid port, with
// optional authentication and graceful shutdown.
//
// Request processing pipeline:
//
//	HTTP:   Accept → net/http → Handler.ServeHTTP → ServerConn (one per exchange)
//	Socket: Accept → socket.ServerConn.Serve (single read goroutine per conn)
//	Hybrid: Accept → protocol.Sniff(first byte) → HTTP or Socket path above
//
//	      → Connection.HandleMessage → Endpoint.HandleCall
//	        → Middleware Chain → handler → reply → Connection.Write
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"mini-jsonrpc/auth"
	"mini-jsonrpc/endpoint"
	"mini-jsonrpc/transport/socket"
	transporthttp "mini-jsonrpc/transport/http"

	"go.uber.org/zap"
)

// DefaultSniffTimeout bounds the wait for the first byte on a hybrid port.
const DefaultSniffTimeout = 10 * time.Second

// ErrShutdownTimeout is returned by Shutdown when in-flight work outlives the
// timeout.
var ErrShutdownTimeout = errors.New("timeout waiting for ongoing requests to finish")

// Options configures a Server.
type Options struct {
	Logger *zap.Logger
	// SniffTimeout bounds the wait for a hybrid connection's first byte.
	// Zero means DefaultSniffTimeout.
	SniffTimeout time.Duration
	// MaxBodySize caps HTTP request bodies; zero keeps the carrier default.
	MaxBodySize int64
	// OnError, when set, observes every failed reply the server sends.
	OnError func(method string, err error)
}

// Server is the RPC server. The embedded Endpoint holds the exposed methods
// and is shared by every connection on every listener.
type Server struct {
	*endpoint.Endpoint
	opts   Options
	logger *zap.Logger
	http   *transporthttp.Handler

	mu        sync.Mutex
	authFn    auth.Func
	listeners map[net.Listener]struct{}
	servers   map[*http.Server]struct{}
	conns     map[*socket.ServerConn]struct{}

	wg       sync.WaitGroup // Tracks live socket connections for graceful shutdown
	shutdown atomic.Bool    // Set during shutdown to suppress Accept errors
}

// New creates a Server with no methods exposed.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SniffTimeout <= 0 {
		opts.SniffTimeout = DefaultSniffTimeout
	}
	s := &Server{
		Endpoint:  endpoint.New(opts.Logger),
		opts:      opts,
		logger:    opts.Logger,
		listeners: make(map[net.Listener]struct{}),
		servers:   make(map[*http.Server]struct{}),
		conns:     make(map[*socket.ServerConn]struct{}),
	}
	if opts.OnError != nil {
		s.Use(reportErrors(opts.OnError))
	}
	s.http = transporthttp.NewHandler(transporthttp.HandlerOptions{
		Dispatcher:  s.Endpoint,
		Logger:      opts.Logger,
		Auth:        s.authorize,
		MaxBodySize: opts.MaxBodySize,
	})
	return s
}

// EnableAuth requires the given credentials on every carrier: HTTP Basic on
// each exchange, the auth handshake on each socket.
func (s *Server) EnableAuth(username, password string) {
	s.SetAuthHandler(auth.Static(username, password))
}

// SetAuthHandler installs a custom credential check. Nil disables
// authentication. Sockets accepted earlier keep the setting they started with.
func (s *Server) SetAuthHandler(fn auth.Func) {
	s.mu.Lock()
	s.authFn = fn
	s.mu.Unlock()
}

func (s *Server) authHandler() auth.Func {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authFn
}

// authorize is the HTTP carrier's credential check. It passes everything
// while authentication is off.
func (s *Server) authorize(user, pass string) bool {
	fn := s.authHandler()
	return fn == nil || fn(user, pass)
}

// HTTPHandler returns the handler the HTTP carrier runs on, for mounting the
// server inside another net/http server.
func (s *Server) HTTPHandler() http.Handler { return s.http }

// Serve serves the HTTP carrier on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server listening", zap.String("url", "http://"+ln.Addr().String()+"/"))
	return s.serveHTTP(ln)
}

func (s *Server) serveHTTP(ln net.Listener) error {
	srv := &http.Server{
		Handler:  s.http,
		ErrorLog: zap.NewStdLog(s.logger),
	}
	if !s.track(ln, srv) {
		return nil
	}
	defer s.untrack(ln, srv)

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || s.shutdown.Load() {
		return nil
	}
	return err
}

// ServeRaw serves the socket carrier on ln until Shutdown.
func (s *Server) ServeRaw(ln net.Listener) error {
	s.logger.Info("server listening", zap.String("url", "tcp://"+ln.Addr().String()+"/"))
	if !s.track(ln, nil) {
		return nil
	}
	defer s.untrack(ln, nil)

	// Accept loop: one goroutine per connection
	for {
		nc, err := ln.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			// Check the shutdown flag to distinguish intentional close from real errors.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.serveSocket(nc)
	}
}

// serveSocket runs one accepted socket to completion. The auth gate is
// decided once, when the socket is accepted.
func (s *Server) serveSocket(nc net.Conn) {
	conn := socket.NewServerConn(nc, socket.ServerOptions{
		Options: socket.Options{Dispatcher: s.Endpoint, Logger: s.logger},
		Auth:    s.authHandler(),
	})

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		nc.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()
	conn.Serve()
}

// ListenAndServe listens on addr and serves the HTTP carrier.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// ListenAndServeRaw listens on addr and serves the socket carrier.
func (s *Server) ListenAndServeRaw(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeRaw(ln)
}

// ListenAndServeHybrid listens on addr and serves both carriers.
func (s *Server) ListenAndServeHybrid(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeHybrid(ln)
}

// track registers a listener (and its http.Server, if any). It reports false
// once shutdown has begun, closing ln.
func (s *Server) track(ln net.Listener, srv *http.Server) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		ln.Close()
		return false
	}
	s.listeners[ln] = struct{}{}
	if srv != nil {
		s.servers[srv] = struct{}{}
	}
	return true
}

func (s *Server) untrack(ln net.Listener, srv *http.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
	if srv != nil {
		delete(s.servers, srv)
	}
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (so Accept errors are recognized as intentional)
//  2. Close every listener and HTTP server, letting open exchanges finish
//  3. End live socket connections; their pending calls fail with ErrClosed
//  4. Wait for in-flight work to finish (with timeout)
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Step 1: Set shutdown flag BEFORE closing listeners
	// If we close first, the Accept error fires before the flag is set,
	// and Serve() would return a real error instead of nil
	s.mu.Lock()
	s.shutdown.Store(true)
	listeners := make([]net.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		listeners = append(listeners, ln)
	}
	servers := make([]*http.Server, 0, len(s.servers))
	for srv := range s.servers {
		servers = append(servers, srv)
	}
	conns := make([]*socket.ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	// Step 2: Stop accepting
	for _, ln := range listeners {
		ln.Close()
	}
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			// Streaming exchanges never go idle on their own.
			errs = append(errs, err)
			srv.Close()
		}
	}

	// Step 3: Sockets have no request boundary to drain at; end them
	for _, c := range conns {
		c.End()
	}

	// Step 4: Wait for socket readers and HTTP exchanges
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if err := s.http.Wait(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		s.logger.Warn("shutdown incomplete", zap.Errors("errors", errs))
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, errors.Join(errs...))
	}
	s.logger.Info("server stopped")
	return nil
}
