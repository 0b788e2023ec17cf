package connection

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a carrier that keeps every written message.
type recorder struct {
	*Core
	mu  sync.Mutex
	raw []string
}

func newRecorder(d Dispatcher) *recorder {
	r := &recorder{}
	r.Core = NewCore(r, Options{Dispatcher: d})
	return r
}

func (r *recorder) Write(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw = append(r.raw, string(data))
	return nil
}

func (r *recorder) messages(t *testing.T) []*message.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*message.Message, 0, len(r.raw))
	for _, raw := range r.raw {
		var msg message.Message
		require.NoError(t, json.Unmarshal([]byte(raw), &msg))
		out = append(out, &msg)
	}
	return out
}

type dispatcherFunc func(ctx context.Context, msg *message.Message, conn Conn, reply ReplyFunc)

func (f dispatcherFunc) HandleCall(ctx context.Context, msg *message.Message, conn Conn, reply ReplyFunc) {
	f(ctx, msg, conn, reply)
}

func parse(t *testing.T, raw string) *message.Message {
	t.Helper()
	var msg message.Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return &msg
}

func TestBareConnectionCannotWrite(t *testing.T) {
	conn := New(Options{})
	assert.ErrorIs(t, conn.Write([]byte("{}")), ErrUnsupported)

	err := conn.Call("add", []int{1, 2}, func(error, json.RawMessage) {})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, 0, conn.Pending())
}

func TestCallAssignsIncreasingIDs(t *testing.T) {
	r := newRecorder(nil)
	noop := func(error, json.RawMessage) {}
	require.NoError(t, r.Call("a", nil, noop))
	require.NoError(t, r.Call("b", 7, noop))

	msgs := r.messages(t)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"method":"a","params":[],"id":1}`, r.raw[0])
	assert.JSONEq(t, `{"method":"b","params":[7],"id":2}`, r.raw[1])
	assert.Equal(t, 2, r.Pending())
}

func TestCorrelationAnyOrder(t *testing.T) {
	const n = 50
	r := newRecorder(nil)

	got := make(map[int]int)
	calls := make(map[int]int)
	for i := 0; i < n; i++ {
		i := i
		require.NoError(t, r.Call("square", i, func(err error, result json.RawMessage) {
			require.NoError(t, err)
			var v int
			require.NoError(t, json.Unmarshal(result, &v))
			got[i] = v
			calls[i]++
		}))
	}

	msgs := r.messages(t)
	rand.Shuffle(len(msgs), func(a, b int) { msgs[a], msgs[b] = msgs[b], msgs[a] })
	for _, req := range msgs {
		var arg int
		require.NoError(t, req.PositionalParams().Bind(&arg))
		resp, err := codec.EncodeResponse(nil, arg*arg, req.ID)
		require.NoError(t, err)
		r.HandleMessage(context.Background(), parse(t, string(resp)))
	}

	for i := 0; i < n; i++ {
		assert.Equal(t, i*i, got[i])
		assert.Equal(t, 1, calls[i])
	}
	assert.Equal(t, 0, r.Pending())
}

func TestDoubleResponseDeliveredOnce(t *testing.T) {
	r := newRecorder(nil)
	count := 0
	require.NoError(t, r.Call("ping", nil, func(error, json.RawMessage) { count++ }))

	r.HandleMessage(context.Background(), parse(t, `{"result":"pong","error":null,"id":1}`))
	r.HandleMessage(context.Background(), parse(t, `{"result":"pong","error":null,"id":1}`))
	assert.Equal(t, 1, count)
}

func TestRemoteErrorDelivered(t *testing.T) {
	r := newRecorder(nil)
	var got error
	require.NoError(t, r.Call("boom", nil, func(err error, _ json.RawMessage) { got = err }))
	r.HandleMessage(context.Background(), parse(t, `{"result":null,"error":"it broke","id":1}`))

	var remote *message.RemoteError
	require.ErrorAs(t, got, &remote)
	assert.Equal(t, "it broke", remote.Message)
}

func TestPanickingCallbackIsContained(t *testing.T) {
	r := newRecorder(nil)
	require.NoError(t, r.Call("a", nil, func(error, json.RawMessage) { panic("bad callback") }))
	assert.NotPanics(t, func() {
		r.HandleMessage(context.Background(), parse(t, `{"result":1,"error":null,"id":1}`))
	})
	assert.Equal(t, 0, r.Pending())
}

func TestReplyWireFormat(t *testing.T) {
	r := newRecorder(dispatcherFunc(func(_ context.Context, msg *message.Message, _ Conn, reply ReplyFunc) {
		var a, b int
		if err := msg.PositionalParams().Bind(&a, &b); err != nil {
			reply(err, nil)
			return
		}
		reply(nil, a+b)
	}))

	r.HandleMessage(context.Background(), parse(t, `{"method":"add","params":[1,2],"id":1}`))
	require.Len(t, r.raw, 1)
	assert.Equal(t, `{"result":3,"error":null,"id":1}`, r.raw[0])
}

func TestErrorReplyIsString(t *testing.T) {
	r := newRecorder(dispatcherFunc(func(_ context.Context, _ *message.Message, _ Conn, reply ReplyFunc) {
		reply(errors.New("division by zero"), 99)
	}))

	r.HandleMessage(context.Background(), parse(t, `{"method":"div","params":[1,0],"id":4}`))
	require.Len(t, r.raw, 1)
	assert.Equal(t, `{"result":null,"error":"division by zero","id":4}`, r.raw[0])
}

func TestNotificationsNeverReplied(t *testing.T) {
	dispatched := 0
	r := newRecorder(dispatcherFunc(func(_ context.Context, _ *message.Message, _ Conn, reply ReplyFunc) {
		dispatched++
		reply(errors.New("handler failed"), nil)
	}))

	r.HandleMessage(context.Background(), parse(t, `{"method":"log","params":["hi"]}`))
	r.HandleMessage(context.Background(), parse(t, `{"method":"log","params":["hi"],"id":null}`))
	assert.Equal(t, 2, dispatched)
	assert.Empty(t, r.raw)

	require.NoError(t, r.Notify("log", "hi"))
	require.Len(t, r.raw, 1)
	assert.JSONEq(t, `{"method":"log","params":["hi"]}`, r.raw[0])
}

func TestWholeNumberIDsReplied(t *testing.T) {
	r := newRecorder(dispatcherFunc(func(_ context.Context, _ *message.Message, _ Conn, reply ReplyFunc) {
		reply(nil, "ok")
	}))

	r.HandleMessage(context.Background(), parse(t, `{"method":"x","params":[],"id":1.0}`))
	r.HandleMessage(context.Background(), parse(t, `{"method":"x","params":[],"id":1e3}`))
	r.HandleMessage(context.Background(), parse(t, `{"method":"x","params":[],"id":1.5}`))
	require.Len(t, r.raw, 2)
	assert.Equal(t, `{"result":"ok","error":null,"id":1.0}`, r.raw[0])
	assert.Equal(t, `{"result":"ok","error":null,"id":1e3}`, r.raw[1])
}

func TestSecondReplyIgnored(t *testing.T) {
	r := newRecorder(dispatcherFunc(func(_ context.Context, _ *message.Message, _ Conn, reply ReplyFunc) {
		reply(nil, 1)
		reply(nil, 2)
	}))
	r.HandleMessage(context.Background(), parse(t, `{"method":"twice","params":[],"id":9}`))
	require.Len(t, r.raw, 1)
	assert.Equal(t, `{"result":1,"error":null,"id":9}`, r.raw[0])
}

func TestUnknownMethodWithoutDispatcher(t *testing.T) {
	r := newRecorder(nil)
	r.HandleMessage(context.Background(), parse(t, `{"method":"nope","params":[],"id":2}`))
	require.Len(t, r.raw, 1)
	assert.Equal(t, `{"result":null,"error":"Unknown RPC call \"nope\"","id":2}`, r.raw[0])
}

func TestUnmatchedResponseDropped(t *testing.T) {
	r := newRecorder(dispatcherFunc(func(context.Context, *message.Message, Conn, ReplyFunc) {
		t.Fatal("response must not be dispatched")
	}))
	r.HandleMessage(context.Background(), parse(t, `{"result":1,"error":null,"id":42}`))
	assert.Empty(t, r.raw)
}

func TestFinishFlushesPending(t *testing.T) {
	r := newRecorder(nil)
	var errs []error
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Call("wait", nil, func(err error, _ json.RawMessage) { errs = append(errs, err) }))
	}
	ended := 0
	r.Stream(func() { ended++ })

	cause := errors.New("peer reset")
	r.Finish(cause)
	r.Finish(nil)

	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, err, cause)
	}
	assert.Equal(t, 1, ended)
	assert.Error(t, r.Context().Err())

	err := r.Call("late", nil, func(error, json.RawMessage) {})
	assert.ErrorIs(t, err, ErrClosed)

	r.Stream(func() { ended++ })
	assert.Equal(t, 2, ended)
}

func TestInvoke(t *testing.T) {
	r := newRecorder(nil)

	go func() {
		for {
			time.Sleep(5 * time.Millisecond)
			if r.Pending() > 0 {
				r.HandleMessage(context.Background(), parse(t, `{"result":"done","error":null,"id":1}`))
				return
			}
		}
	}()

	result, err := r.Invoke(context.Background(), "work", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"done"`, string(result))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Invoke(ctx, "never", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, r.Pending())
}
