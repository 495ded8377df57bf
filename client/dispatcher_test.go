// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/absmach/fluxnats/core"
)

// dispatcherHarness runs a dispatcher over a hand-fed pipe.
type dispatcherHarness struct {
	c    *Conn
	pipe *core.Pipe
	done chan error
}

func newDispatcherHarness(t *testing.T, ctx context.Context, opts *Options) *dispatcherHarness {
	t.Helper()
	c := New(opts)
	h := &dispatcherHarness{
		c:    c,
		pipe: core.NewPipe(1 << 20),
		done: make(chan error, 1),
	}
	d := &dispatcher{c: c, pipe: h.pipe, parser: core.NewParser(c.pool, 0)}
	go func() { h.done <- d.run(ctx) }()
	return h
}

func (h *dispatcherHarness) feed(t *testing.T, wire string) {
	t.Helper()
	if err := h.pipe.Write(context.Background(), h.c.pool.GetCopy([]byte(wire))); err != nil {
		t.Fatalf("pipe write: %v", err)
	}
}

func TestDispatcherAnswersPing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newDispatcherHarness(t, ctx, nil)

	h.feed(t, "PING\r\n")

	select {
	case b := <-h.c.sendQ:
		if string(b.Bytes()) != "PONG\r\n" {
			t.Errorf("queued frame = %q, want PONG", b.Bytes())
		}
		b.Release()
	case <-time.After(time.Second):
		t.Fatal("no PONG enqueued")
	}
}

func TestDispatcherDeliversBySid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newDispatcherHarness(t, ctx, nil)

	sub := h.c.registry.add(h.c, "foo", "", 4)
	other := h.c.registry.add(h.c, "foo", "", 4)

	h.feed(t, "MSG foo 1 5\r\nhello\r\n")

	m, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(m.Data) != "hello" {
		t.Errorf("data = %q", m.Data)
	}

	select {
	case <-other.inbox:
		t.Error("message delivered to a non-matching sid")
	default:
	}
}

func TestDispatcherDropsUnknownSid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newDispatcherHarness(t, ctx, nil)

	h.feed(t, "MSG ghost 42 2\r\nhi\r\nPING\r\n")

	// The PONG for the trailing PING proves the MSG was processed and
	// discarded without wedging the dispatcher.
	select {
	case b := <-h.c.sendQ:
		b.Release()
	case <-time.After(time.Second):
		t.Fatal("dispatcher wedged on unknown sid")
	}
}

func TestDispatcherServerError(t *testing.T) {
	errs := make(chan error, 1)
	opts := NewOptions()
	opts.OnError = func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newDispatcherHarness(t, ctx, opts)

	h.feed(t, "-ERR 'Unknown Protocol Operation'\r\n")

	select {
	case err := <-errs:
		serr, ok := err.(*ServerError)
		if !ok {
			t.Fatalf("err type = %T, want *ServerError", err)
		}
		if serr.Message != "Unknown Protocol Operation" {
			t.Errorf("message = %q", serr.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("server error not surfaced")
	}
}

func TestDispatcherProtocolViolationFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newDispatcherHarness(t, ctx, nil)

	h.feed(t, "GARBAGE\r\n")

	select {
	case err := <-h.done:
		var perr *core.ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("err = %v, want protocol violation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on protocol violation")
	}
}

func TestDispatcherUpdatesServerInfo(t *testing.T) {
	infos := make(chan *core.ServerInfo, 1)
	opts := NewOptions()
	opts.OnServerInfo = func(i *core.ServerInfo) { infos <- i }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newDispatcherHarness(t, ctx, opts)

	h.feed(t, "INFO {\"server_id\":\"abc\",\"version\":\"2.10.0\",\"max_payload\":4096}\r\n")

	select {
	case info := <-infos:
		if info.ServerID != "abc" || info.MaxPayload != 4096 {
			t.Errorf("info = %+v", info)
		}
	case <-time.After(time.Second):
		t.Fatal("server info not delivered")
	}
	if h.c.ServerInfo() == nil {
		t.Error("ServerInfo() not updated")
	}
}

func TestDispatcherPayloadRefCounting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newDispatcherHarness(t, ctx, nil)

	sub := h.c.registry.add(h.c, "rc", "", 4)
	h.feed(t, "MSG rc 1 4\r\ndata\r\n")

	// Grab the frame before Next releases it to inspect the count:
	// dispatcher's own reference is dropped after the offer, so the
	// subscription holds exactly one.
	select {
	case f := <-sub.inbox:
		waitFor(t, time.Second, func() bool { return f.Payload.RefCount() == 1 })
		f.Payload.Release()
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}
