// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec defines the payload serializer injected into the
// client. The wire engine treats payloads as opaque bytes; typed
// publish and receive helpers go through a Codec.
package codec

import (
	"encoding/json"
	"errors"
)

// ErrNotBytes is returned by Raw for values it cannot pass through:
// Encode takes a []byte or a string, Decode takes a *[]byte.
var ErrNotBytes = errors.New("codec: raw codec accepts []byte only")

// Codec encodes and decodes user payloads.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSON encodes payloads as UTF-8 JSON.
type JSON struct{}

// Encode implements Codec.
func (JSON) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode implements Codec.
func (JSON) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Raw passes byte slices through untouched; Encode also accepts a
// string and returns its bytes.
type Raw struct{}

// Encode implements Codec.
func (Raw) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, ErrNotBytes
	}
}

// Decode implements Codec.
func (Raw) Decode(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return ErrNotBytes
	}
	*p = data
	return nil
}
