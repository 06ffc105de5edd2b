package engine

import "encoding/json"

// Codec serializes typed values to a wire format and back. Dispatch takes an
// input and an output codec so callers choose both directions independently.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONCodec is the default Codec backed by encoding/json.
type JSONCodec struct{}

// Marshal serializes a value to JSON bytes.
func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes JSON bytes into the given target.
func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
