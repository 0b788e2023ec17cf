package message

import (
	"encoding/json"
	"testing"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) *Message {
	t.Helper()
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return &msg
}

func TestHasID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"integer", `{"method":"a","id":1}`, true},
		{"zero", `{"method":"a","id":0}`, true},
		{"negative", `{"method":"a","id":-7}`, true},
		{"quoted integer", `{"method":"a","id":"42"}`, true},
		{"absent", `{"method":"a"}`, false},
		{"null", `{"method":"a","id":null}`, false},
		{"float", `{"method":"a","id":1.5}`, false},
		{"whole float", `{"method":"a","id":1.0}`, true},
		{"exponent", `{"method":"a","id":1e3}`, true},
		{"quoted float", `{"method":"a","id":"1.0"}`, false},
		{"beyond exact range", `{"method":"a","id":1e300}`, false},
		{"word", `{"method":"a","id":"abc"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decode(t, tt.raw).HasID())
		})
	}
}

func TestIntIDWholeNumbers(t *testing.T) {
	id, ok := decode(t, `{"method":"a","id":1e3}`).IntID()
	require.True(t, ok)
	assert.Equal(t, int64(1000), id)

	id, ok = decode(t, `{"method":"a","id":-2.0}`).IntID()
	require.True(t, ok)
	assert.Equal(t, int64(-2), id)
}

func TestPresenceOfNullMembers(t *testing.T) {
	msg := decode(t, `{"result":null,"error":"boom","id":3}`)
	assert.True(t, msg.HasResult())
	assert.True(t, msg.HasError())
	assert.True(t, msg.IsResponse())
	assert.False(t, msg.IsCall())

	msg = decode(t, `{"error":null,"id":3}`)
	assert.False(t, msg.HasResult())
	assert.True(t, msg.IsResponse())
}

func TestPositionalParams(t *testing.T) {
	params := decode(t, `{"method":"add","params":[1,2]}`).PositionalParams()
	require.Len(t, params, 2)

	var a, b int
	require.NoError(t, params.Bind(&a, &b))
	assert.Equal(t, 3, a+b)

	params = decode(t, `{"method":"add","params":{"a":1}}`).PositionalParams()
	assert.Len(t, params, 1)

	params = decode(t, `{"method":"add"}`).PositionalParams()
	assert.Len(t, params, 0)
}

func TestBindInvalidParam(t *testing.T) {
	params := Params{json.RawMessage(`"x"`)}
	var n int
	err := params.Bind(&n)
	require.Error(t, err)

	var rpcErr *json2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, json2.E_BAD_PARAMS, rpcErr.Code)
}

func TestNewRequest(t *testing.T) {
	id := int64(1)
	req := NewRequest("add", []int{1, 2}, &id)
	assert.Equal(t, "add", req.Method)
	assert.Equal(t, []int{1, 2}, req.Params)
	assert.Equal(t, &id, req.ID)

	req = NewRequest("log", "hello", nil)
	assert.Equal(t, []any{"hello"}, req.Params)
	assert.Nil(t, req.ID)
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse(nil, 3, json.RawMessage("1"))
	assert.Equal(t, 3, resp.Result)
	assert.Nil(t, resp.Error)

	resp = NewResponse(MethodNotFound("nope"), 3, nil)
	assert.Nil(t, resp.Result)
	require.NotNil(t, resp.Error)
	assert.Equal(t, `Unknown RPC call "nope"`, *resp.Error)
	assert.Equal(t, json.RawMessage("null"), resp.ID)
}

func TestDecodeError(t *testing.T) {
	assert.NoError(t, DecodeError(nil))
	assert.NoError(t, DecodeError(json.RawMessage("null")))

	err := DecodeError(json.RawMessage(`"Error: Unauthorized"`))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Error: Unauthorized", remote.Message)

	err = DecodeError(json.RawMessage(`{"code":-32601,"message":"missing"}`))
	var rpcErr *json2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, json2.E_NO_METHOD, rpcErr.Code)
	assert.Equal(t, "missing", rpcErr.Message)

	err = DecodeError(json.RawMessage(`{"reason":"x"}`))
	require.ErrorAs(t, err, &remote)
}
