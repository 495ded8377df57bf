// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"bytes"
)

// Parser limits.
const (
	// DefaultMaxPayload caps the advertised total length of an
	// incoming MSG or HMSG frame.
	DefaultMaxPayload = 64 << 20

	// maxControlLine caps the length of a single protocol line,
	// INFO included.
	maxControlLine = 1 << 20
)

type parserState uint8

const (
	stateLine parserState = iota
	statePayload
	stateTrailerCR
	stateTrailerLF
)

// Parser is an incremental parser for the server-to-client protocol.
// Feed it byte chunks in arrival order via Next; frame boundaries may
// fall anywhere, including inside CRLF pairs and length prefixes.
//
// Bytes of a partial frame are buffered internally (payload bytes are
// copied into pooled buffers as they arrive), so they count as consumed
// and no frame refers to the caller's chunk: the caller may release it
// after the call returns. Bytes following a completed frame are left
// unconsumed for the caller to offer again.
type Parser struct {
	pool       *BufferPool
	maxPayload int

	state parserState
	line  []byte

	// MSG / HMSG in progress.
	subject   string
	reply     string
	sid       uint64
	headerLen int
	headered  bool
	payload   *Buffer
	filled    int
}

// NewParser creates a parser drawing payload buffers from pool.
// A non-positive maxPayload selects DefaultMaxPayload.
func NewParser(pool *BufferPool, maxPayload int) *Parser {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Parser{pool: pool, maxPayload: maxPayload}
}

// Reset discards any partially parsed frame and returns retained
// buffers to the pool. Call when abandoning the byte stream.
func (p *Parser) Reset() {
	if p.payload != nil {
		p.payload.Release()
	}
	p.payload = nil
	p.line = nil
	p.state = stateLine
}

// Next consumes bytes from data until one frame completes or data is
// exhausted. It returns the completed frame (nil if more bytes are
// needed) and the number of bytes consumed from data. Errors are
// protocol violations and are fatal for the byte stream.
func (p *Parser) Next(data []byte) (Frame, int, error) {
	consumed := 0
	for consumed < len(data) {
		switch p.state {
		case stateLine:
			rest := data[consumed:]
			nl := bytes.IndexByte(rest, '\n')
			if nl < 0 {
				if len(p.line)+len(rest) > maxControlLine {
					return nil, consumed, protocolErrorf("control line exceeds %d bytes", maxControlLine)
				}
				p.line = append(p.line, rest...)
				return nil, len(data), nil
			}
			var full []byte
			if len(p.line) > 0 {
				p.line = append(p.line, rest[:nl+1]...)
				full = p.line
			} else {
				full = rest[:nl+1]
			}
			consumed += nl + 1
			if len(full) < 2 || full[len(full)-2] != '\r' {
				return nil, consumed, protocolErrorf("control line not terminated by CRLF")
			}
			f, err := p.parseLine(full[: len(full)-2 : len(full)-2])
			p.line = p.line[:0]
			if err != nil {
				return nil, consumed, err
			}
			if f != nil {
				return f, consumed, nil
			}

		case statePayload:
			rest := data[consumed:]
			n := p.payload.Len() - p.filled
			if n > len(rest) {
				n = len(rest)
			}
			copy(p.payload.data[p.filled:], rest[:n])
			p.filled += n
			consumed += n
			if p.filled == p.payload.Len() {
				p.state = stateTrailerCR
			}

		case stateTrailerCR:
			if data[consumed] != '\r' {
				p.Reset()
				return nil, consumed, protocolErrorf("payload not terminated by CRLF")
			}
			consumed++
			p.state = stateTrailerLF

		case stateTrailerLF:
			if data[consumed] != '\n' {
				p.Reset()
				return nil, consumed, protocolErrorf("payload not terminated by CRLF")
			}
			consumed++
			f := &MsgFrame{
				Subject:   p.subject,
				Sid:       p.sid,
				Reply:     p.reply,
				HeaderLen: p.headerLen,
				Payload:   p.payload,
				Headered:  p.headered,
			}
			p.payload = nil
			p.subject, p.reply = "", ""
			p.sid, p.headerLen, p.filled = 0, 0, 0
			p.headered = false
			p.state = stateLine
			return f, consumed, nil
		}
	}
	return nil, consumed, nil
}

// parseLine interprets one complete control line, CRLF stripped. It
// returns a frame for line-only verbs and transitions the parser into
// statePayload for MSG and HMSG.
func (p *Parser) parseLine(line []byte) (Frame, error) {
	verb, rest := cutToken(line)
	if len(verb) == 0 {
		return nil, protocolErrorf("empty control line")
	}

	switch {
	case verbIs(verb, "MSG"):
		return nil, p.startMsg(rest, false)
	case verbIs(verb, "HMSG"):
		return nil, p.startMsg(rest, true)
	case verbIs(verb, "PING"):
		return PingFrame{}, nil
	case verbIs(verb, "PONG"):
		return PongFrame{}, nil
	case verbIs(verb, "INFO"):
		payload := bytes.TrimSpace(rest)
		if len(payload) == 0 {
			return nil, protocolErrorf("INFO frame without payload")
		}
		return &InfoFrame{Payload: bytes.Clone(payload)}, nil
	case verbIs(verb, "+OK"):
		return OKFrame{}, nil
	case verbIs(verb, "-ERR"):
		msg := bytes.TrimSpace(rest)
		msg = bytes.TrimPrefix(msg, []byte("'"))
		msg = bytes.TrimSuffix(msg, []byte("'"))
		return &ErrFrame{Message: string(msg)}, nil
	default:
		return nil, protocolErrorf("unknown verb %q", verb)
	}
}

// startMsg parses the argument section of a MSG or HMSG line and
// prepares the payload buffer.
func (p *Parser) startMsg(args []byte, headered bool) error {
	var toks [5][]byte
	n := 0
	for rest := args; len(rest) > 0 && n < len(toks); {
		var tok []byte
		tok, rest = cutToken(rest)
		if len(tok) == 0 {
			break
		}
		toks[n] = tok
		n++
	}

	min, verb := 3, "MSG"
	if headered {
		min, verb = 4, "HMSG"
	}
	if n < min || n > min+1 {
		return protocolErrorf("malformed %s arguments", verb)
	}

	subject := toks[0]
	sid, err := parseUint(toks[1])
	if err != nil {
		return protocolErrorf("malformed %s sid", verb)
	}

	rest := toks[2:n]
	if n == min+1 {
		p.reply = string(rest[0])
		rest = rest[1:]
	}

	var headerLen, totalLen uint64
	if headered {
		headerLen, err = parseUint(rest[0])
		if err != nil {
			return protocolErrorf("malformed HMSG header length")
		}
		rest = rest[1:]
	}
	totalLen, err = parseUint(rest[0])
	if err != nil {
		return protocolErrorf("malformed %s length", verb)
	}
	if headerLen > totalLen {
		return protocolErrorf("HMSG header length exceeds total length")
	}
	if totalLen > uint64(p.maxPayload) {
		return protocolErrorf("payload of %d bytes exceeds limit of %d", totalLen, p.maxPayload)
	}

	p.subject = string(subject)
	p.sid = sid
	p.headerLen = int(headerLen)
	p.headered = headered
	p.payload = p.pool.Get(int(totalLen))
	p.filled = 0
	p.state = statePayload
	return nil
}

// cutToken splits off the first space- or tab-delimited token.
func cutToken(b []byte) (tok, rest []byte) {
	i := 0
	for i < len(b) && b[i] != ' ' && b[i] != '\t' {
		i++
	}
	j := i
	for j < len(b) && (b[j] == ' ' || b[j] == '\t') {
		j++
	}
	return b[:i], b[j:]
}

// verbIs reports whether tok equals verb, ASCII case-insensitively.
// verb must be given in upper case.
func verbIs(tok []byte, verb string) bool {
	if len(tok) != len(verb) {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c != verb[i] {
			return false
		}
	}
	return true
}

// parseUint decodes a non-negative decimal with no sign or padding.
func parseUint(b []byte) (uint64, error) {
	if len(b) == 0 || len(b) > 19 {
		return 0, protocolErrorf("malformed number")
	}
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, protocolErrorf("malformed number")
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}
