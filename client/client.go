// Package client implements the JSON-RPC client endpoint. One Client talks to
// one server address over either carrier:
//
//	Call          → one HTTP POST exchange per call
//	Stream        → one HTTP exchange kept open by the server
//	ConnectSocket → a persistent socket with auth handshake and reconnect
//
// The embedded Endpoint holds methods the server may call back: they answer
// calls pushed down a Stream and calls arriving on a socket.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/endpoint"
	"mini-jsonrpc/transport/socket"
	transporthttp "mini-jsonrpc/transport/http"

	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

// Options configures a Client.
type Options struct {
	Address  string // host:port of the server, for both carriers
	Username string // Credentials, used when both are set
	Password string

	Path       string       // HTTP request path; defaults to "/"
	HTTPClient *http.Client // Defaults to http.DefaultClient

	ReconnectDelay   time.Duration // Socket redial delay after an error
	DisableReconnect bool          // Turns socket auto-reconnect off

	Logger *zap.Logger
}

// Client is a JSON-RPC client endpoint.
type Client struct {
	*endpoint.Endpoint
	opts   Options
	logger *zap.Logger
	http   *transporthttp.Client
}

// New returns a Client for opts.Address. No connection is made until the
// first call.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		Endpoint: endpoint.New(opts.Logger),
		opts:     opts,
		logger:   opts.Logger,
		http: transporthttp.NewClient(transporthttp.ClientOptions{
			Host:       opts.Address,
			Path:       opts.Path,
			Username:   opts.Username,
			Password:   opts.Password,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		}),
	}
}

// Call makes one HTTP call and decodes the result into reply, which may be
// nil to discard it.
func (c *Client) Call(ctx context.Context, method string, params any, reply any) error {
	result, err := c.http.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return decodeResult(result, reply)
}

// decodeResult unmarshals a raw result. A result that does not fit reply is
// reported as a parse error.
func decodeResult(result json.RawMessage, reply any) error {
	if reply == nil || len(result) == 0 {
		return nil
	}
	if err := codec.Default.Decode(result, reply); err != nil {
		return &json2.Error{Code: json2.E_PARSE, Message: "cannot decode result: " + err.Error()}
	}
	return nil
}

// Stream makes an HTTP call the server may keep open. Calls the server pushes
// down the response are answered by the methods exposed on c at the time of
// the call; more can be added with Stream.Expose.
func (c *Client) Stream(ctx context.Context, method string, params any) (*transporthttp.Stream, error) {
	handlers := make(map[string]endpoint.Handler)
	for _, name := range c.Methods() {
		if h, ok := c.Lookup(name); ok {
			handlers[name] = h
		}
	}
	return c.http.Stream(ctx, method, params, handlers)
}

// ConnectSocket opens a socket to the server. When credentials are set the
// auth handshake completes before it returns. Calls from the server are
// dispatched to c's exposed methods.
func (c *Client) ConnectSocket(ctx context.Context) (*socket.Client, error) {
	c.logger.Debug("connecting socket", zap.String("direction", "-->"), zap.String("address", c.opts.Address))
	return socket.Dial(ctx, socket.ClientOptions{
		Options: socket.Options{
			Dispatcher: c.Endpoint,
			Logger:     c.logger,
		},
		Address:          c.opts.Address,
		Username:         c.opts.Username,
		Password:         c.opts.Password,
		ReconnectDelay:   c.opts.ReconnectDelay,
		DisableReconnect: c.opts.DisableReconnect,
	})
}

// CallSocket is Call over an established socket: it waits for the reply to
// method and decodes it into reply.
func CallSocket(ctx context.Context, conn *socket.Client, method string, params any, reply any) error {
	result, err := conn.Invoke(ctx, method, params)
	if err != nil {
		return err
	}
	return decodeResult(result, reply)
}
