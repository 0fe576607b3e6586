// Package jsoncodec centralises JSON encoding so every envelope, receipt and
// registry payload goes through the same sonic configuration.
package jsoncodec

import (
	"encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// RawMessage is a raw encoded JSON value, usable to delay decoding.
type RawMessage = json.RawMessage

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// DecodeStrict decodes a single JSON value from r, rejecting unknown fields.
func DecodeStrict(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
