// Package jsonx provides JSON serialization for the kernel using Sonic.
// Every payload that crosses a store or suspension boundary goes through
// this package so the whole repo agrees on one encoder configuration.
package jsonx

import (
	"github.com/bytedance/sonic"
)

var api = sonic.Config{
	EscapeHTML: false,
	UseInt64:   true,
}.Froze()

// Marshal returns the JSON encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal parses the JSON-encoded data and stores the result in the value
// pointed to by v.
func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// MarshalToString is like Marshal but returns the JSON as a string.
func MarshalToString(v interface{}) (string, error) {
	return api.MarshalToString(v)
}

// UnmarshalFromString parses the JSON string and stores the result in v.
func UnmarshalFromString(data string, v interface{}) error {
	return api.UnmarshalFromString(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}

// RawMessage is a raw encoded JSON value. The curation store and the codec
// hand it around when a payload must stay opaque until its discriminator has
// been inspected.
type RawMessage []byte

// MarshalJSON returns m as the JSON encoding of m.
func (m RawMessage) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return m, nil
}

// UnmarshalJSON sets *m to a copy of data.
func (m *RawMessage) UnmarshalJSON(data []byte) error {
	*m = append((*m)[0:0], data...)
	return nil
}
