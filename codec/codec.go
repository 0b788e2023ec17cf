// Package codec turns bytes into messages.
//
// Two shapes of input exist: an HTTP body that holds exactly one JSON
// document, decoded with the Codec, and a raw stream (socket or streaming HTTP
// body) of concatenated JSON values with no delimiter beyond JSON's own
// nesting, decoded incrementally with the Decoder.
package codec

import (
	"encoding/json"

	"mini-jsonrpc/message"

	"github.com/go-json-experiment/json/jsontext"
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Default is the codec used by every carrier.
var Default Codec = &JSONCodec{}

// DecodeMessage decodes one complete value into a Message.
func DecodeMessage(v jsontext.Value) (*message.Message, error) {
	msg := &message.Message{}
	if err := Default.Decode(v, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodeRequest encodes a call with the Default codec. A nil id produces a
// notification.
func EncodeRequest(method string, params any, id *int64) ([]byte, error) {
	return Default.Encode(message.NewRequest(method, params, id))
}

// EncodeResponse encodes a reply with the Default codec. When result cannot
// be encoded the peer gets an internal error instead.
func EncodeResponse(err error, result any, id json.RawMessage) ([]byte, error) {
	data, encErr := Default.Encode(message.NewResponse(err, result, id))
	if encErr != nil {
		return Default.Encode(message.NewResponse(message.InternalError(encErr), nil, id))
	}
	return data, nil
}
