package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"mini-jsonrpc/auth"
	"mini-jsonrpc/codec"
	"mini-jsonrpc/connection"
	"mini-jsonrpc/message"

	"go.uber.org/zap"
)

// HandlerOptions configures the server side of the carrier.
type HandlerOptions struct {
	Dispatcher connection.Dispatcher
	Logger     *zap.Logger
	// Auth, when set, requires HTTP Basic credentials on every exchange.
	Auth auth.Func
	// MaxBodySize caps request bodies; zero means codec.MaxValueSize.
	MaxBodySize int64
}

// Handler serves JSON-RPC exchanges over HTTP.
type Handler struct {
	opts   HandlerOptions
	logger *zap.Logger
	wg     sync.WaitGroup // Tracks in-flight exchanges for graceful shutdown
}

// NewHandler returns a Handler.
func NewHandler(opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = codec.MaxValueSize
	}
	return &Handler{opts: opts, logger: opts.Logger}
}

// Wait blocks until every in-flight exchange has finished or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.wg.Add(1)
	defer h.wg.Done()

	h.logger.Debug("accepted http request",
		zap.String("direction", "<--"),
		zap.String("remote", r.RemoteAddr),
		zap.String("authorization", auth.Mask(r.Header.Get("Authorization"))))

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, textMethodNotAllowed)
		return
	}

	// Credentials are checked before the body is read. The reply does not
	// say which half was wrong.
	if h.opts.Auth != nil {
		user, pass, _ := auth.ParseBasic(r.Header.Get("Authorization"))
		if !h.opts.Auth(user, pass) {
			writeError(w, http.StatusUnauthorized, textUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize))
	if err != nil {
		h.logger.Debug("failed to read request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, textInvalidRequest)
		return
	}

	msg := &message.Message{}
	if err := codec.Default.Decode(body, msg); err != nil || !validRequest(msg) {
		h.logger.Debug("response (invalid request)", zap.String("direction", "-->"))
		writeError(w, http.StatusBadRequest, textInvalidRequest)
		return
	}

	conn := newServerConn(w, r, h.opts)
	conn.HandleMessage(conn.Context(), msg)
	conn.wait()
}

// validRequest requires method, params and an integer id. Notifications
// cannot be carried: an exchange without a reply would never complete.
func validRequest(msg *message.Message) bool {
	if msg.Method == "" || !msg.HasID() {
		return false
	}
	params := string(msg.Params)
	return params != "" && params != "null"
}

func writeError(w http.ResponseWriter, code int, text string) {
	header := w.Header()
	header.Set("Content-Type", "text/plain")
	header.Set("Content-Length", strconv.Itoa(len(text)))
	header.Set("Allow", http.MethodPost)
	if code == http.StatusUnauthorized {
		header.Set("WWW-Authenticate", `Basic realm="`+auth.Realm+`"`)
	}
	w.WriteHeader(code)
	io.WriteString(w, text)
}

// ServerConn is one HTTP exchange seen as a connection. Its reply ends the
// exchange unless Stream was called first.
type ServerConn struct {
	*connection.Core
	w      http.ResponseWriter
	rc     *http.ResponseController
	req    *http.Request
	logger *zap.Logger

	mu        sync.Mutex
	streaming bool
	headerOut bool          // Status line and headers have been sent
	finished  bool          // ServeHTTP returned or is returning; w is off limits
	done      chan struct{} // Closed when the exchange should complete
	doneOnce  sync.Once
}

func newServerConn(w http.ResponseWriter, r *http.Request, opts HandlerOptions) *ServerConn {
	c := &ServerConn{
		w:      w,
		rc:     http.NewResponseController(w),
		req:    r,
		logger: opts.Logger,
		done:   make(chan struct{}),
	}
	c.Core = connection.NewCore(c, connection.Options{
		Dispatcher: opts.Dispatcher,
		Logger:     opts.Logger,
		Context:    r.Context(),
	})
	return c
}

// Request returns the HTTP request of the exchange.
func (c *ServerConn) Request() *http.Request { return c.req }

// Stream keeps the response open after the reply so that further messages
// can be written. onEnd runs when the exchange finishes.
func (c *ServerConn) Stream(onEnd func()) {
	c.mu.Lock()
	if !c.finished && !c.headerOut {
		c.streaming = true
	}
	c.mu.Unlock()
	c.Core.Stream(onEnd)
}

// SendReply writes the response to the exchange's call. Without streaming it
// completes the exchange.
func (c *ServerConn) SendReply(err error, result any, id json.RawMessage) error {
	data, encErr := codec.EncodeResponse(err, result, id)
	if encErr != nil {
		return encErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return c.writeStreamLocked(data)
	}
	if c.finished || c.headerOut {
		return nil
	}
	header := c.w.Header()
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(data)))
	c.w.WriteHeader(http.StatusOK)
	c.headerOut = true
	if _, werr := c.w.Write(data); werr != nil {
		c.logger.Debug("reply to gone peer dropped", zap.Error(werr))
	}
	c.complete()
	return nil
}

// Write appends one encoded value to a streaming response. Writing to a peer
// that has gone away is a silent no-op.
func (c *ServerConn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return ErrNotStreaming
	}
	return c.writeStreamLocked(data)
}

func (c *ServerConn) writeStreamLocked(data []byte) error {
	if c.finished || c.req.Context().Err() != nil {
		return nil
	}
	if !c.headerOut {
		c.w.Header().Set("Content-Type", "application/json")
		c.w.WriteHeader(http.StatusOK)
		c.headerOut = true
	}
	if _, err := c.w.Write(data); err != nil {
		c.logger.Debug("write to gone peer dropped", zap.Error(err))
		return nil
	}
	if err := c.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		c.logger.Debug("flush failed", zap.Error(err))
	}
	return nil
}

// End finishes a streaming exchange from the server side.
func (c *ServerConn) End() error {
	c.complete()
	return nil
}

// Close is End.
func (c *ServerConn) Close() error {
	return c.End()
}

func (c *ServerConn) complete() {
	c.doneOnce.Do(func() { close(c.done) })
}

// wait holds ServeHTTP until the exchange completes or the client goes away,
// then fails pending calls and runs end callbacks.
func (c *ServerConn) wait() {
	var cause error
	select {
	case <-c.done:
	case <-c.req.Context().Done():
		cause = c.req.Context().Err()
	}

	c.mu.Lock()
	c.finished = true
	c.mu.Unlock()
	c.Finish(cause)
}
