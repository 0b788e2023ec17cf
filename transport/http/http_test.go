package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mini-jsonrpc/auth"
	"mini-jsonrpc/connection"
	"mini-jsonrpc/endpoint"
	"mini-jsonrpc/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEndpoint() *endpoint.Endpoint {
	e := endpoint.New(nil)
	e.Expose("add", endpoint.Func(func(_ context.Context, params message.Params) (any, error) {
		var a, b int
		if err := params.Bind(&a, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	}))
	e.Expose("fail", endpoint.Func(func(context.Context, message.Params) (any, error) {
		return nil, errors.New("something went wrong")
	}))
	e.Expose("subscribe", func(_ context.Context, params message.Params, conn connection.Conn, reply connection.ReplyFunc) {
		var n int
		params.Bind(&n)
		conn.Stream(nil)
		reply(nil, "subscribed")
		for i := 1; i <= n; i++ {
			conn.Notify("tick", i)
		}
		conn.Close()
	})
	e.Expose("abandon", func(_ context.Context, _ message.Params, conn connection.Conn, _ connection.ReplyFunc) {
		conn.Stream(nil)
		conn.Notify("tick", 0)
		conn.Close()
	})
	e.Expose("push", func(_ context.Context, _ message.Params, conn connection.Conn, reply connection.ReplyFunc) {
		err := conn.Notify("tick", 1)
		reply(nil, errors.Is(err, ErrNotStreaming))
	})
	return e
}

func newServer(t *testing.T, opts HandlerOptions) string {
	t.Helper()
	if opts.Dispatcher == nil {
		opts.Dispatcher = testEndpoint()
	}
	srv := httptest.NewServer(NewHandler(opts))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func post(t *testing.T, host, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post("http://"+host+"/", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestAddScenario(t *testing.T) {
	host := newServer(t, HandlerOptions{})

	resp, body := post(t, host, `{"method":"add","params":[1,2],"id":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, `{"result":3,"error":null,"id":1}`, body)

	result, err := NewClient(ClientOptions{Host: host}).Call(context.Background(), "add", []int{1, 2})
	require.NoError(t, err)
	assert.JSONEq(t, "3", string(result))
}

func TestRemoteError(t *testing.T) {
	host := newServer(t, HandlerOptions{})

	_, body := post(t, host, `{"method":"fail","params":[],"id":7}`)
	assert.Equal(t, `{"result":null,"error":"something went wrong","id":7}`, body)

	_, err := NewClient(ClientOptions{Host: host}).Call(context.Background(), "fail", nil)
	var remote *message.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "something went wrong", remote.Message)
}

func TestMethodNotAllowed(t *testing.T) {
	host := newServer(t, HandlerOptions{})

	resp, err := http.Get("http://" + host + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST", resp.Header.Get("Allow"))
	assert.Equal(t, "Method Not Allowed\n", string(body))
}

func TestInvalidRequests(t *testing.T) {
	host := newServer(t, HandlerOptions{})

	for _, body := range []string{
		`not json`,
		`{"params":[1,2],"id":1}`,
		`{"method":"add","id":1}`,
		`{"method":"add","params":null,"id":1}`,
		`{"method":"add","params":[1,2]}`,
		`{"method":"add","params":[1,2],"id":"x"}`,
	} {
		resp, text := post(t, host, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "Invalid Request\n", text, body)
	}
}

func TestBasicAuth(t *testing.T) {
	host := newServer(t, HandlerOptions{Auth: auth.Static("myuser", "secret")})

	resp, body := post(t, host, `{"method":"add","params":[1,2],"id":1}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Basic realm="JSON-RPC"`, resp.Header.Get("WWW-Authenticate"))
	assert.Equal(t, "Unauthorized\n", body)

	_, err := NewClient(ClientOptions{Host: host, Username: "myuser", Password: "wrong"}).
		Call(context.Background(), "add", []int{1, 2})
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusUnauthorized, status.Code)
	assert.Equal(t, "Unauthorized\n", status.Body)

	result, err := NewClient(ClientOptions{Host: host, Username: "myuser", Password: "secret"}).
		Call(context.Background(), "add", []int{1, 2})
	require.NoError(t, err)
	assert.JSONEq(t, "3", string(result))
}

func TestWriteRequiresStreaming(t *testing.T) {
	host := newServer(t, HandlerOptions{})

	result, err := NewClient(ClientOptions{Host: host}).Call(context.Background(), "push", nil)
	require.NoError(t, err)
	assert.JSONEq(t, "true", string(result))
}

func TestStreaming(t *testing.T) {
	host := newServer(t, HandlerOptions{})

	var mu sync.Mutex
	var ticks []int
	s, err := NewClient(ClientOptions{Host: host}).Stream(context.Background(), "subscribe", 3,
		map[string]endpoint.Handler{
			"tick": func(_ context.Context, params message.Params, _ connection.Conn, reply connection.ReplyFunc) {
				var n int
				params.Bind(&n)
				mu.Lock()
				ticks = append(ticks, n)
				mu.Unlock()
				reply(nil, nil)
			},
		})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := s.Result(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `"subscribed"`, string(result))

	select {
	case <-s.Done():
	case <-ctx.Done():
		t.Fatal("stream did not end")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, ticks)
}

func TestStreamEndsWithoutResult(t *testing.T) {
	host := newServer(t, HandlerOptions{})

	s, err := NewClient(ClientOptions{Host: host}).Stream(context.Background(), "abandon", nil, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = s.Result(ctx)
	assert.ErrorIs(t, err, ErrNoResult)
	assert.ErrorIs(t, err, connection.ErrClosed)
}

func TestWriteToGonePeerIsSilent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	conn := newServerConn(rec, req, HandlerOptions{})
	conn.Stream(nil)
	cancel()

	assert.NoError(t, conn.Write([]byte(`{"method":"tick","params":[]}`)))
	assert.Empty(t, rec.Body.String())
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Code: 401, Body: "Unauthorized\n"}
	assert.Contains(t, err.Error(), "401")
}
