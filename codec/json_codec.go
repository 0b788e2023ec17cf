package codec

import (
	"encoding/json"
	"errors"

	"github.com/go-json-experiment/json/jsontext"
)

// ErrInvalidDocument is returned for input that is not exactly one valid
// JSON value.
var ErrInvalidDocument = errors.New("codec: invalid JSON document")

// JSONCodec handles single, complete JSON documents such as HTTP bodies.
// Decode holds documents to the same rules as the stream Decoder, so a value
// accepted on one carrier is accepted on the other.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if !jsontext.Value(data).IsValid() {
		return ErrInvalidDocument
	}
	return json.Unmarshal(data, v)
}
