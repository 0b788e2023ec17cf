// Package http implements the HTTP carrier: one JSON-RPC call per POST
// exchange, optionally kept open afterwards as a limited duplex channel.
//
// Exchange lifecycle (server side):
//
//	POST / → method/auth checks → body decoded once → ServerConn
//	  → HandleMessage → handler → reply
//	      not streaming: 200 + single JSON body, exchange done
//	      streaming:     200 + first value, body kept open for further writes
//
// Once a handler calls Stream on its connection, the response body becomes a
// sequence of concatenated JSON values that the client decodes incrementally.
package http

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStreaming is returned by Write on an exchange that has not been
	// switched to streaming mode.
	ErrNotStreaming = errors.New("http: cannot send extra messages via non-streaming HTTP")
	// ErrNoResult is reported when a response carries no reply to the call.
	ErrNoResult = errors.New("http: exchange ended without a result")
)

const (
	textUnauthorized     = "Unauthorized\n"
	textMethodNotAllowed = "Method Not Allowed\n"
	textInvalidRequest   = "Invalid Request\n"
)

// StatusError reports a non-200 reply. Body holds whatever the server sent.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: status %d: %q", e.Code, e.Body)
}
