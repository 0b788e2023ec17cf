package message

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/rpc/v2/json2"
)

// RemoteError is a failure reported by the peer as a plain string.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// MethodNotFound is returned by the dispatcher for unregistered methods.
func MethodNotFound(method string) *json2.Error {
	return &json2.Error{
		Code:    json2.E_NO_METHOD,
		Message: fmt.Sprintf("Unknown RPC call %q", method),
	}
}

// InternalError wraps a handler failure that was not already a protocol error.
func InternalError(v any) *json2.Error {
	return &json2.Error{
		Code:    json2.E_INTERNAL,
		Message: fmt.Sprint(v),
	}
}

// DecodeError turns the error member of a response into a Go error. It
// returns nil for an absent or null member. Strings become *RemoteError and
// {"code", "message", "data"} objects become *json2.Error.
func DecodeError(raw json.RawMessage) error {
	raw = trimmed(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return &RemoteError{Message: s}
		}
	case '{':
		var structured struct {
			Code    *int   `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data"`
		}
		if err := json.Unmarshal(raw, &structured); err == nil && structured.Code != nil {
			return &json2.Error{
				Code:    json2.ErrorCode(*structured.Code),
				Message: structured.Message,
				Data:    structured.Data,
			}
		}
	}
	return &RemoteError{Message: string(raw)}
}
