package state

import (
	"bytes"
	"encoding/json"
	"io"
)

// decode parses raw into a generic JSON tree. Numbers stay json.Number so
// integers survive a decode/encode cycle unchanged.
func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, Wrap(CodeInvalidInput, "decode document", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, InvalidInput("decode document: trailing data after JSON value")
	}
	return v, nil
}

// encode renders v without HTML escaping and without a trailing newline.
func encode(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, Wrap(CodeInvalidInput, "encode document", err)
	}
	return json.RawMessage(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// compact validates raw and strips insignificant whitespace.
func compact(raw []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, Wrap(CodeInvalidInput, "decode document", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
