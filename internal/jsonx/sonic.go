// Package jsonx is the JSON codec for all wire-facing structs, built on
// Sonic. It mirrors the encoding/json surface the handlers need plus a
// pooled-buffer writer for response bodies.
package jsonx

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/valyala/bytebufferpool"
)

// Marshal returns the JSON encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal parses data into the value pointed to by v.
func Unmarshal(data []byte, v interface{}) error {
	return sonic.Unmarshal(data, v)
}

// MarshalToString is like Marshal but returns a string, avoiding the
// []byte-to-string copy.
func MarshalToString(v interface{}) (string, error) {
	return sonic.MarshalString(v)
}

// UnmarshalFromString parses the JSON string and stores the result in v.
func UnmarshalFromString(data string, v interface{}) error {
	return sonic.UnmarshalString(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}

// MarshalWrite encodes v through a pooled buffer and writes it to w in one
// call. The buffer returns to the pool before MarshalWrite returns, so
// nothing is retained per request.
func MarshalWrite(w io.Writer, v interface{}) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonx: marshal: %w", err)
	}
	if _, err := buf.Write(data); err != nil {
		return err
	}
	if _, err := w.Write(buf.B); err != nil {
		return fmt.Errorf("jsonx: write: %w", err)
	}
	return nil
}

// NewDecoder returns a decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// Decoder reads a single JSON value from a stream.
type Decoder struct {
	reader io.Reader
	buf    *bytes.Buffer
}

// Decode reads the next JSON-encoded value from the input and stores it in
// the value pointed to by v.
func (d *Decoder) Decode(v interface{}) error {
	if d.buf == nil {
		d.buf = &bytes.Buffer{}
	}
	if _, err := io.Copy(d.buf, d.reader); err != nil {
		return err
	}
	return sonic.Unmarshal(d.buf.Bytes(), v)
}

// NewEncoder returns an encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// Encoder writes JSON values to a stream, newline-terminated.
type Encoder struct {
	writer io.Writer
}

// Encode writes the JSON encoding of v followed by a newline.
func (e *Encoder) Encode(v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := e.writer.Write(data); err != nil {
		return err
	}
	_, err = e.writer.Write([]byte{'\n'})
	return err
}
