package codec

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/go-json-experiment/json/jsontext"
)

// MaxValueSize bounds a single buffered top-level value.
const MaxValueSize = 64 << 20

const readChunkSize = 4096

var ErrValueTooLarge = errors.New("codec: value exceeds maximum size")

// SyntaxError reports malformed input. The decoder has already dropped the
// corrupt value when it is returned and resumes at the next '{' or '['.
type SyntaxError struct {
	Offset int64 // Stream offset of the offending byte
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("codec: syntax error at offset %d: %s", e.Offset, e.Msg)
}

// Decoder incrementally splits a byte stream into top-level JSON values.
//
// It tracks nesting depth (and string/escape state, so brackets inside
// strings are ignored) and emits a value only when its closing delimiter
// brings the depth back to zero. A Decoder belongs to exactly one connection
// and is not safe for concurrent use.
type Decoder struct {
	buf      []byte // Bytes of the value currently being assembled
	closers  []byte // Expected closing delimiters, innermost last
	inString bool
	escaped  bool
	resync   bool  // Skipping bytes after a fault until the next value opens
	offset   int64 // Bytes consumed over the decoder's lifetime
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write feeds the next chunk and returns every value it completed, in
// arrival order. On malformed input the partial value is dropped and bytes are
// skipped up to the next top-level '{' or '['; values found before and after
// the fault are returned together with the first error of the chunk.
func (d *Decoder) Write(chunk []byte) ([]jsontext.Value, error) {
	var out []jsontext.Value
	var first error
	for i, b := range chunk {
		pos := d.offset + int64(i)
		v, err := d.step(b, pos)
		if err != nil {
			d.Reset()
			d.resync = true
			if first == nil {
				first = err
			}
			continue
		}
		if v != nil {
			out = append(out, v)
		}
	}
	d.offset += int64(len(chunk))
	return out, first
}

// Buffered reports how many bytes of an unfinished value are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any partially assembled value and ends a resync.
func (d *Decoder) Reset() {
	d.resync = false
	d.buf = d.buf[:0]
	d.closers = d.closers[:0]
	d.inString = false
	d.escaped = false
}

func (d *Decoder) step(b byte, pos int64) (jsontext.Value, error) {
	if len(d.closers) == 0 {
		switch b {
		case ' ', '\t', '\r', '\n':
			return nil, nil
		case '{':
			d.open('}', b)
			return nil, nil
		case '[':
			d.open(']', b)
			return nil, nil
		}
		if d.resync {
			return nil, nil
		}
		return nil, &SyntaxError{Offset: pos, Msg: fmt.Sprintf("unexpected %q outside of a value", b)}
	}

	if len(d.buf) >= MaxValueSize {
		return nil, ErrValueTooLarge
	}
	d.buf = append(d.buf, b)

	if d.inString {
		switch {
		case d.escaped:
			d.escaped = false
		case b == '\\':
			d.escaped = true
		case b == '"':
			d.inString = false
		}
		return nil, nil
	}

	switch b {
	case '"':
		d.inString = true
	case '{':
		d.closers = append(d.closers, '}')
	case '[':
		d.closers = append(d.closers, ']')
	case '}', ']':
		want := d.closers[len(d.closers)-1]
		if b != want {
			return nil, &SyntaxError{Offset: pos, Msg: fmt.Sprintf("unexpected %q, want %q", b, want)}
		}
		d.closers = d.closers[:len(d.closers)-1]
		if len(d.closers) == 0 {
			return d.emit(pos)
		}
	}
	return nil, nil
}

func (d *Decoder) open(closer, b byte) {
	d.resync = false
	d.buf = append(d.buf[:0], b)
	d.closers = append(d.closers[:0], closer)
}

func (d *Decoder) emit(pos int64) (jsontext.Value, error) {
	v := jsontext.Value(append([]byte(nil), d.buf...))
	d.buf = d.buf[:0]
	if !v.IsValid() {
		return nil, &SyntaxError{Offset: pos, Msg: "invalid JSON value"}
	}
	return v, nil
}

// Stream reads r until it fails and yields every decoded value. Decode
// failures are yielded as errors and reading continues after them; the read
// error that ends the stream is yielded last unless it is io.EOF.
func Stream(r io.Reader) iter.Seq2[jsontext.Value, error] {
	return func(yield func(jsontext.Value, error) bool) {
		dec := NewDecoder()
		buf := make([]byte, readChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				values, decErr := dec.Write(buf[:n])
				for _, v := range values {
					if !yield(v, nil) {
						return
					}
				}
				if decErr != nil && !yield(nil, decErr) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(nil, err)
				}
				return
			}
		}
	}
}

// IsDecodeError reports whether err came from malformed input rather than
// from the underlying reader.
func IsDecodeError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se) || errors.Is(err, ErrValueTooLarge)
}
