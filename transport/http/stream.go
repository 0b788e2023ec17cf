package http

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/connection"
	"mini-jsonrpc/endpoint"
	"mini-jsonrpc/message"

	"go.uber.org/zap"
)

// Stream is an exchange the server keeps open. Besides the terminal reply to
// the original call, the response body may carry calls pushed by the server;
// those are dispatched to handlers registered with Expose.
//
// Routing of each value read from the body:
//
//	result or error present, id matches the call → Result
//	method present                                → exposed handler
//	anything else                                 → dropped
type Stream struct {
	*connection.Core
	endpoint *endpoint.Endpoint
	logger   *zap.Logger
	id       int64
	cancel   context.CancelFunc

	resultOnce  sync.Once
	resultReady chan struct{}
	result      json.RawMessage
	resultErr   error
	done        chan struct{}
}

// Stream posts a call and keeps reading the response body. handlers, if not
// nil, are exposed before the first value is read.
func (c *Client) Stream(ctx context.Context, method string, params any, handlers map[string]endpoint.Handler) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		endpoint:    endpoint.New(c.logger),
		logger:      c.logger,
		cancel:      cancel,
		resultReady: make(chan struct{}),
		done:        make(chan struct{}),
	}
	for name, h := range handlers {
		s.endpoint.Expose(name, h)
	}
	s.Core = connection.NewCore(s, connection.Options{Dispatcher: s.endpoint, Logger: c.logger, Context: ctx})

	id, err := s.Register(s.setResult)
	if err != nil {
		cancel()
		return nil, err
	}
	s.id = id
	data, err := codec.EncodeRequest(method, params, &id)
	if err != nil {
		cancel()
		return nil, err
	}

	c.logger.Debug("http stream", zap.String("direction", "-->"), zap.String("method", method), zap.Int64("id", id))
	resp, err := c.post(ctx, data)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer resp.Body.Close()
		s.readLoop(resp.Body)
	}()
	return s, nil
}

func (s *Stream) readLoop(body io.Reader) {
	defer close(s.done)

	var cause error
	for v, err := range codec.Stream(body) {
		if err != nil {
			if codec.IsDecodeError(err) {
				s.logger.Warn("dropping malformed stream value", zap.Error(err))
				continue
			}
			cause = err
			break
		}
		msg, err := codec.DecodeMessage(v)
		if err != nil {
			continue
		}
		s.route(msg)
	}

	if cause == nil && s.Pending() > 0 {
		cause = ErrNoResult
	}
	s.Finish(cause)
}

func (s *Stream) route(msg *message.Message) {
	if msg.IsResponse() {
		if id, ok := msg.IntID(); ok && id == s.id {
			s.HandleMessage(s.Context(), msg)
			return
		}
	}
	if msg.IsCall() {
		s.HandleMessage(s.Context(), msg)
		return
	}
	s.logger.Debug("dropped stream value", zap.ByteString("id", msg.ID))
}

func (s *Stream) setResult(err error, result json.RawMessage) {
	s.resultOnce.Do(func() {
		s.result, s.resultErr = result, err
		close(s.resultReady)
	})
}

// Expose registers a handler for calls the server pushes down the stream.
// Calls arriving before registration are answered as unknown methods.
func (s *Stream) Expose(method string, h endpoint.Handler) {
	s.endpoint.Expose(method, h)
}

// Write always fails: the request body was sent when the stream opened.
func (s *Stream) Write(data []byte) error {
	return connection.ErrUnsupported
}

// Result waits for the terminal reply. If the stream ends without one the
// error wraps ErrNoResult.
func (s *Stream) Result(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-s.resultReady:
		return s.result, s.resultErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the server ends the response body.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close aborts the underlying request.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}
