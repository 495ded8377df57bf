// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/absmach/fluxnats/core"
)

// readChunkSize is the pooled buffer size for socket reads.
const readChunkSize = 32 * 1024

// runReceiver reads socket bytes into the dispatcher pipe. It does not
// parse. A zero-byte read signals orderly EOF; both EOF and transport
// errors end the connection cycle.
func (c *Conn) runReceiver(ctx context.Context, conn net.Conn, pipe *core.Pipe) error {
	for {
		b := c.pool.Get(readChunkSize)
		n, err := conn.Read(b.Bytes())
		if n > 0 {
			b.Truncate(n)
			c.stats.addReceivedBytes(n)
			c.stats.receiverQueueBytes.Add(int64(n))
			if werr := pipe.Write(ctx, b); werr != nil {
				return werr
			}
		} else {
			b.Release()
		}
		if err != nil {
			if ctx.Err() != nil {
				pipe.CloseWithError(ctx.Err())
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				pipe.CloseWithError(nil)
				return ErrConnectionLost
			}
			pipe.CloseWithError(err)
			return err
		}
	}
}

// dispatcher parses the byte pipe and routes frames: PING is answered
// with PONG, INFO updates connection state, MSG and HMSG fan out to
// the subscription matching the sid, -ERR surfaces on the error
// callback.
type dispatcher struct {
	c      *Conn
	pipe   *core.Pipe
	parser *core.Parser
}

func (d *dispatcher) run(ctx context.Context) error {
	defer d.parser.Reset()
	for {
		b, err := d.pipe.Read(ctx)
		if err != nil {
			if errors.Is(err, core.ErrPipeClosed) {
				return ErrConnectionLost
			}
			return err
		}
		data := b.Bytes()
		d.c.stats.receiverQueueBytes.Add(int64(-len(data)))

		for len(data) > 0 {
			f, n, perr := d.parser.Next(data)
			data = data[n:]
			if perr != nil {
				b.Release()
				d.c.notifyError(perr)
				return perr
			}
			if f == nil {
				continue
			}
			if herr := d.handle(ctx, f); herr != nil {
				b.Release()
				return herr
			}
		}
		b.Release()
	}
}

func (d *dispatcher) handle(ctx context.Context, f core.Frame) error {
	c := d.c
	switch f := f.(type) {
	case core.PingFrame:
		return c.enqueue(ctx, core.BuildPong(c.pool))

	case core.PongFrame:
		c.handlePong()

	case *core.InfoFrame:
		info := new(core.ServerInfo)
		if err := json.Unmarshal(f.Payload, info); err != nil {
			c.notifyError(&core.ProtocolError{Reason: "malformed INFO payload"})
			return nil
		}
		c.serverInfo.Store(info)
		c.logger.Debug("server info updated",
			slog.String("server_id", info.ServerID),
			slog.String("version", info.Version))
		if c.opts.OnServerInfo != nil {
			c.opts.OnServerInfo(info)
		}

	case core.OKFrame:
		// Verbose-mode acknowledgment.

	case *core.ErrFrame:
		serr := &ServerError{Message: f.Message}
		c.logger.Warn("server error", slog.String("message", f.Message))
		c.notifyError(serr)

	case *core.MsgFrame:
		c.stats.addReceivedMsg()
		return d.deliver(ctx, f)
	}
	return nil
}

// deliver offers the message to the subscription owning the sid. The
// payload buffer carries one reference for the dispatcher and gains
// one per receiving subscription; the dispatcher's own reference is
// dropped after the offer.
func (d *dispatcher) deliver(ctx context.Context, f *core.MsgFrame) error {
	c := d.c
	sub := c.registry.get(f.Sid)
	if sub == nil {
		f.Payload.Release()
		return nil
	}

	f.Payload.Retain()
	delivered := false
	select {
	case sub.inbox <- f:
		delivered = true
	default:
		// Full inbox: suspend until the consumer drains. Back
		// pressure propagates to the receiver through the pipe.
		select {
		case sub.inbox <- f:
			delivered = true
		case <-sub.done:
			f.Payload.Release()
		case <-ctx.Done():
			f.Payload.Release()
			f.Payload.Release()
			return ctx.Err()
		}
	}

	if delivered {
		n := sub.delivered.Add(1)
		if max := sub.max.Load(); max > 0 && n >= max {
			c.registry.remove(sub.sid)
			sub.close()
		}
	}
	f.Payload.Release()
	return nil
}
