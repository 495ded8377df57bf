// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens the client socket. The default is plain TCP; WSDialer
// tunnels the same byte stream over a WebSocket listener.
type Dialer interface {
	DialContext(ctx context.Context, addr string) (net.Conn, error)
}

// TCPDialer dials plain TCP with Nagle's algorithm disabled, so small
// coalesced writes leave immediately.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// DialContext implements Dialer.
func (d *TCPDialer) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// WSDialer dials a WebSocket endpoint and adapts it to the byte-stream
// interface the wire engine expects. The addr passed to DialContext is
// used verbatim as the WebSocket URL (ws:// or wss://).
type WSDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

// DialContext implements Dialer.
func (d *WSDialer) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	wd := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	ws, _, err := wd.DialContext(ctx, addr, d.Header)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

// wsConn presents a websocket.Conn as a net.Conn. Writes map to one
// binary message each; reads drain binary messages in order, carrying
// a partial message across Read calls.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.UnderlyingConn().LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.UnderlyingConn().RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
