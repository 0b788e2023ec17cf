// Package message defines the JSON-RPC wire unit exchanged by every carrier.
//
// A Message is exactly one of:
//
//	Request:      {"method": "add", "params": [1, 2], "id": 1}
//	Notification: {"method": "log", "params": ["hi"]}
//	Response:     {"result": 3, "error": null, "id": 1}
//
// Params, id, result and error are kept as raw JSON so payloads pass through
// the transport untouched.
package message

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Message is the decoded form of any inbound value.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"` // Ignored on input, never written
	Method  string          `json:"method,omitempty"`  // Set on requests and notifications
	Params  json.RawMessage `json:"params,omitempty"`  // Positional arguments
	ID      json.RawMessage `json:"id,omitempty"`      // Absent on notifications
	Result  json.RawMessage `json:"result,omitempty"`  // "null" when present but null
	Error   json.RawMessage `json:"error,omitempty"`   // "null" on success responses
}

var idPattern = regexp.MustCompile(`^-?\d+$`)

// HasID reports whether the message carries an integer id (optionally quoted,
// optionally negative). Only such messages get a reply.
func (m *Message) HasID() bool {
	_, ok := m.IntID()
	return ok
}

// maxExactID is the largest integer a JSON number carries without rounding.
const maxExactID = 1 << 53

// IntID returns the id as an integer. A bare JSON number with no fractional
// part counts even when written as 1.0 or 1e3; a quoted id must be digits.
func (m *Message) IntID() (int64, bool) {
	if m == nil || len(m.ID) == 0 {
		return 0, false
	}
	s := strings.TrimSpace(string(m.ID))
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return 0, false
		}
		s = unquoted
	} else if !idPattern.MatchString(s) {
		return wholeNumber(s)
	}
	if !idPattern.MatchString(s) {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func wholeNumber(s string) (int64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactID {
		return 0, false
	}
	return int64(f), true
}

// HasResult reports whether a result member was present, even if null.
func (m *Message) HasResult() bool { return m.Result != nil }

// HasError reports whether an error member was present, even if null.
func (m *Message) HasError() bool { return m.Error != nil }

// IsResponse reports whether the message is a reply to an earlier call.
func (m *Message) IsResponse() bool { return m.HasResult() || m.HasError() }

// IsCall reports whether the message is a request or a notification.
func (m *Message) IsCall() bool { return m.Method != "" }

// PositionalParams returns the params as an ordered sequence. Absent or null
// params are empty; a non-array value is wrapped in a single-element sequence.
func (m *Message) PositionalParams() Params {
	raw := trimmed(m.Params)
	if len(raw) == 0 || string(raw) == "null" {
		return Params{}
	}
	if raw[0] != '[' {
		return Params{raw}
	}
	var params Params
	if err := json.Unmarshal(raw, &params); err != nil {
		return Params{raw}
	}
	return params
}

func trimmed(raw json.RawMessage) json.RawMessage {
	return json.RawMessage(strings.TrimSpace(string(raw)))
}

// ArrayParams returns the params only when they were sent as a JSON array.
func (m *Message) ArrayParams() (Params, bool) {
	raw := trimmed(m.Params)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var params Params
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, false
	}
	return params, true
}
