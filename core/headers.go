// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"bytes"
	"sort"
)

// headerVersion opens every header block; the block ends with a blank
// line that is part of the advertised header length.
const headerVersion = "NATS/1.0"

// Header is the set of message headers carried by HPUB and HMSG frames.
// Multiple values per key preserve their wire order.
type Header map[string][]string

// Add appends a value to the key.
func (h Header) Add(key, value string) {
	h[key] = append(h[key], value)
}

// Set replaces all values of the key.
func (h Header) Set(key, value string) {
	h[key] = []string{value}
}

// Get returns the first value of the key, or "".
func (h Header) Get(key string) string {
	if v := h[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Del removes the key.
func (h Header) Del(key string) {
	delete(h, key)
}

// encodedLen returns the exact on-wire size of the header block.
func (h Header) encodedLen() int {
	n := len(headerVersion) + 2 + 2 // version line + terminal blank line
	for k, vs := range h {
		for _, v := range vs {
			n += len(k) + 2 + len(v) + 2 // "k: v\r\n"
		}
	}
	return n
}

// appendTo writes the header block. Keys are emitted in sorted order so
// the encoding is deterministic; values of one key keep their order.
func (h Header) appendTo(dst []byte) []byte {
	dst = append(dst, headerVersion...)
	dst = append(dst, '\r', '\n')
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			dst = append(dst, k...)
			dst = append(dst, ':', ' ')
			dst = append(dst, v...)
			dst = append(dst, '\r', '\n')
		}
	}
	return append(dst, '\r', '\n')
}

// ParseHeaders decodes a raw header block as delivered by HMSG.
func ParseHeaders(block []byte) (Header, error) {
	rest, ok := bytes.CutPrefix(block, []byte(headerVersion))
	if !ok {
		return nil, ErrInvalidHeaders
	}
	// The version line may carry an inline status, e.g. "NATS/1.0 503".
	nl := bytes.Index(rest, []byte("\r\n"))
	if nl < 0 {
		return nil, ErrInvalidHeaders
	}
	rest = rest[nl+2:]

	h := make(Header)
	for len(rest) > 0 {
		nl = bytes.Index(rest, []byte("\r\n"))
		if nl < 0 {
			return nil, ErrInvalidHeaders
		}
		line := rest[:nl]
		rest = rest[nl+2:]
		if len(line) == 0 {
			// Terminal blank line.
			if len(rest) != 0 {
				return nil, ErrInvalidHeaders
			}
			return h, nil
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return nil, ErrInvalidHeaders
		}
		key := string(line[:colon])
		val := string(bytes.TrimLeft(line[colon+1:], " "))
		h.Add(key, val)
	}
	return nil, ErrInvalidHeaders
}
