package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"mini-jsonrpc/auth"
	"mini-jsonrpc/codec"
	"mini-jsonrpc/connection"
	"mini-jsonrpc/message"

	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

// ClientOptions configures the client side of the carrier.
type ClientOptions struct {
	Host     string // host:port
	Path     string // Request path; defaults to "/"
	Username string // Basic credentials, sent when both are set
	Password string

	HTTPClient *http.Client // Defaults to http.DefaultClient
	Logger     *zap.Logger
}

// Client makes JSON-RPC calls, one POST exchange per call.
type Client struct {
	opts   ClientOptions
	logger *zap.Logger
}

// NewClient returns a Client for opts.Host.
func NewClient(opts ClientOptions) *Client {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{opts: opts, logger: opts.Logger}
}

// URL returns the endpoint every exchange is posted to.
func (c *Client) URL() string {
	return "http://" + c.opts.Host + c.opts.Path
}

// post sends one encoded request and returns the response once its status
// is known. Non-200 replies are drained into a *StatusError.
func (c *Client) post(ctx context.Context, data []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Username != "" && c.opts.Password != "" {
		req.Header.Set("Authorization", auth.BasicHeader(c.opts.Username, c.opts.Password))
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

// Call performs one exchange and returns the result. Remote failures come
// back as *message.RemoteError or *json2.Error, HTTP failures as
// *StatusError.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ex := &exchange{client: c}
	ex.Core = connection.NewCore(ex, connection.Options{Logger: c.logger, Context: ctx})
	defer ex.Finish(nil)

	c.logger.Debug("http call", zap.String("direction", "-->"), zap.String("method", method))
	return ex.Invoke(ctx, method, params)
}

// exchange is the connection of a single non-streaming call. Its Write
// performs the whole HTTP round trip and feeds the decoded body back into
// the pending-call table.
type exchange struct {
	*connection.Core
	client *Client
	sent   atomic.Bool
}

func (ex *exchange) Write(data []byte) error {
	if !ex.sent.CompareAndSwap(false, true) {
		return connection.ErrUnsupported
	}
	ctx := ex.Context()
	resp, err := ex.client.post(ctx, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, codec.MaxValueSize))
	if err != nil {
		return err
	}
	msg := &message.Message{}
	if err := codec.Default.Decode(body, msg); err != nil {
		return &json2.Error{Code: json2.E_PARSE, Message: fmt.Sprintf("invalid response body: %v", err)}
	}

	before := ex.Pending()
	ex.HandleMessage(ctx, msg)
	if ex.Pending() == before {
		return ErrNoResult
	}
	return nil
}
