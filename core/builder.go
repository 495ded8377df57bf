// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/json"
	"strconv"

	"github.com/absmach/fluxnats/internal/bufpool"
)

// MaxBuildPayload bounds the payload size accepted by the outbound
// builders. The parser side is configured separately.
const MaxBuildPayload = 10 * 1024 * 1024

// ConnectOptions is the JSON payload of the CONNECT frame.
type ConnectOptions struct {
	Verbose     bool   `json:"verbose"`
	Pedantic    bool   `json:"pedantic"`
	TLSRequired bool   `json:"tls_required"`
	AuthToken   string `json:"auth_token,omitempty"`
	User        string `json:"user,omitempty"`
	Pass        string `json:"pass,omitempty"`
	Name        string `json:"name,omitempty"`
	Lang        string `json:"lang"`
	Version     string `json:"version"`
	Protocol    int    `json:"protocol"`
	Echo        bool   `json:"echo"`
	Headers     bool   `json:"headers"`
}

// ValidateSubject rejects empty subjects and subjects containing
// whitespace or CRLF.
func ValidateSubject(subject string) error {
	if !validSubject(subject) {
		return ErrInvalidSubject
	}
	return nil
}

func validSubject(subject string) bool {
	if len(subject) == 0 {
		return false
	}
	for i := 0; i < len(subject); i++ {
		switch subject[i] {
		case ' ', '\t', '\r', '\n':
			return false
		}
	}
	return true
}

// decimalLen returns the number of ASCII digits of n.
func decimalLen(n uint64) int {
	l := 1
	for n >= 10 {
		n /= 10
		l++
	}
	return l
}

// BuildPub serializes a PUB frame into a pooled buffer.
// Grammar: PUB <subject> [reply-to] <len>\r\n<payload>\r\n
func BuildPub(pool *BufferPool, subject, reply string, payload []byte) (*Buffer, error) {
	if !validSubject(subject) {
		return nil, ErrInvalidSubject
	}
	if reply != "" && !validSubject(reply) {
		return nil, ErrInvalidSubject
	}
	if len(payload) > MaxBuildPayload {
		return nil, ErrMaxPayload
	}

	size := 4 + len(subject) + 1 + decimalLen(uint64(len(payload))) + 2 + len(payload) + 2
	if reply != "" {
		size += len(reply) + 1
	}
	b := pool.Get(size)
	w := b.data[:0]
	w = append(w, "PUB "...)
	w = append(w, subject...)
	w = append(w, ' ')
	if reply != "" {
		w = append(w, reply...)
		w = append(w, ' ')
	}
	w = strconv.AppendUint(w, uint64(len(payload)), 10)
	w = append(w, '\r', '\n')
	w = append(w, payload...)
	w = append(w, '\r', '\n')
	b.data = w
	return b, nil
}

// BuildHPub serializes an HPUB frame into a pooled buffer.
// Grammar: HPUB <subject> [reply-to] <header-len> <total-len>\r\n<headers><payload>\r\n
func BuildHPub(pool *BufferPool, subject, reply string, hdr Header, payload []byte) (*Buffer, error) {
	if !validSubject(subject) {
		return nil, ErrInvalidSubject
	}
	if reply != "" && !validSubject(reply) {
		return nil, ErrInvalidSubject
	}
	hdrLen := hdr.encodedLen()
	totalLen := hdrLen + len(payload)
	if totalLen > MaxBuildPayload {
		return nil, ErrMaxPayload
	}

	size := 5 + len(subject) + 1 +
		decimalLen(uint64(hdrLen)) + 1 + decimalLen(uint64(totalLen)) + 2 +
		totalLen + 2
	if reply != "" {
		size += len(reply) + 1
	}
	b := pool.Get(size)
	w := b.data[:0]
	w = append(w, "HPUB "...)
	w = append(w, subject...)
	w = append(w, ' ')
	if reply != "" {
		w = append(w, reply...)
		w = append(w, ' ')
	}
	w = strconv.AppendUint(w, uint64(hdrLen), 10)
	w = append(w, ' ')
	w = strconv.AppendUint(w, uint64(totalLen), 10)
	w = append(w, '\r', '\n')
	w = hdr.appendTo(w)
	w = append(w, payload...)
	w = append(w, '\r', '\n')
	b.data = w
	return b, nil
}

// BuildSub serializes a SUB frame into a pooled buffer.
// Grammar: SUB <subject> [queue-group] <sid>\r\n
func BuildSub(pool *BufferPool, subject, queue string, sid uint64) (*Buffer, error) {
	if !validSubject(subject) {
		return nil, ErrInvalidSubject
	}
	if queue != "" && !validSubject(queue) {
		return nil, ErrInvalidSubject
	}

	size := 4 + len(subject) + 1 + decimalLen(sid) + 2
	if queue != "" {
		size += len(queue) + 1
	}
	b := pool.Get(size)
	w := b.data[:0]
	w = append(w, "SUB "...)
	w = append(w, subject...)
	w = append(w, ' ')
	if queue != "" {
		w = append(w, queue...)
		w = append(w, ' ')
	}
	w = strconv.AppendUint(w, sid, 10)
	w = append(w, '\r', '\n')
	b.data = w
	return b, nil
}

// BuildUnsub serializes an UNSUB frame into a pooled buffer. A positive
// maxMsgs asks the server to drop the subscription after that many
// deliveries.
// Grammar: UNSUB <sid> [max-msgs]\r\n
func BuildUnsub(pool *BufferPool, sid uint64, maxMsgs int) *Buffer {
	size := 6 + decimalLen(sid) + 2
	if maxMsgs > 0 {
		size += 1 + decimalLen(uint64(maxMsgs))
	}
	b := pool.Get(size)
	w := b.data[:0]
	w = append(w, "UNSUB "...)
	w = strconv.AppendUint(w, sid, 10)
	if maxMsgs > 0 {
		w = append(w, ' ')
		w = strconv.AppendUint(w, uint64(maxMsgs), 10)
	}
	w = append(w, '\r', '\n')
	b.data = w
	return b
}

// BuildConnect serializes a CONNECT frame into a pooled buffer.
// Grammar: CONNECT <json-options>\r\n
func BuildConnect(pool *BufferPool, opts ConnectOptions) (*Buffer, error) {
	scratch := bufpool.Get()
	defer bufpool.Put(scratch)
	if err := json.NewEncoder(scratch).Encode(opts); err != nil {
		return nil, err
	}
	// Encode appends a newline the wire format must not carry.
	payload := scratch.Bytes()
	payload = payload[:len(payload)-1]

	b := pool.Get(8 + len(payload) + 2)
	w := b.data[:0]
	w = append(w, "CONNECT "...)
	w = append(w, payload...)
	w = append(w, '\r', '\n')
	b.data = w
	return b, nil
}

// BuildPing serializes a PING frame into a pooled buffer.
func BuildPing(pool *BufferPool) *Buffer {
	return pool.GetCopy([]byte("PING\r\n"))
}

// BuildPong serializes a PONG frame into a pooled buffer.
func BuildPong(pool *BufferPool) *Buffer {
	return pool.GetCopy([]byte("PONG\r\n"))
}
