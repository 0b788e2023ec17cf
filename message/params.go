package message

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/gorilla/rpc/v2/json2"
)

// Params is the positional argument list of a call.
type Params []json.RawMessage

// Len returns the number of arguments.
func (p Params) Len() int { return len(p) }

// Bind decodes the arguments into dst in order. Missing trailing arguments
// leave their destinations untouched; extra arguments are ignored.
func (p Params) Bind(dst ...any) error {
	for i, d := range dst {
		if i >= len(p) {
			return nil
		}
		if err := json.Unmarshal(p[i], d); err != nil {
			return &json2.Error{
				Code:    json2.E_BAD_PARAMS,
				Message: fmt.Sprintf("invalid param %d: %v", i, err),
			}
		}
	}
	return nil
}

// String decodes argument i as a string.
func (p Params) String(i int) (string, bool) {
	if i >= len(p) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(p[i], &s); err != nil {
		return "", false
	}
	return s, true
}

// Sequence returns params as a value that encodes to a JSON array. Values that
// are already slices or arrays (or raw JSON arrays) pass through; nil becomes
// an empty array; anything else is wrapped in a single-element array.
func Sequence(params any) any {
	switch v := params.(type) {
	case nil:
		return []any{}
	case Params:
		if v == nil {
			return []any{}
		}
		return v
	case json.RawMessage:
		raw := trimmed(v)
		if len(raw) > 0 && raw[0] == '[' {
			return raw
		}
		if len(raw) == 0 {
			return []any{}
		}
		return []json.RawMessage{raw}
	case []byte:
		return []any{v}
	}
	rv := reflect.ValueOf(params)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return []any{}
		}
		return params
	case reflect.Array:
		return params
	}
	return []any{params}
}
