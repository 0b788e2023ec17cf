package message

import (
	"encoding/json"
)

// Request is the outbound form of a call or notification.
type Request struct {
	Method string `json:"method"`
	Params any    `json:"params"`
	ID     *int64 `json:"id,omitempty"`
}

// Response is the outbound form of a reply. Field order is the wire order.
type Response struct {
	Result any             `json:"result"`
	Error  *string         `json:"error"`
	ID     json.RawMessage `json:"id"`
}

// NewRequest builds a call. A nil id produces a notification; params that
// are not a sequence are wrapped in one.
func NewRequest(method string, params any, id *int64) *Request {
	return &Request{
		Method: method,
		Params: Sequence(params),
		ID:     id,
	}
}

// NewResponse builds a reply for the call with the given raw id. A non-nil
// err is stringified and the result is dropped.
func NewResponse(err error, result any, id json.RawMessage) *Response {
	resp := &Response{Result: result, ID: id}
	if err != nil {
		text := err.Error()
		resp.Error = &text
		resp.Result = nil
	}
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}
	return resp
}
