// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// inboxPrefix opens the private reply-subject namespace.
const inboxPrefix = "_INBOX."

// respMux correlates request replies. One wildcard subscription on
// `_INBOX.<token>.>` feeds a correlator goroutine that completes the
// matching one-shot slot. Replies arriving after their slot was
// removed are dropped.
type respMux struct {
	prefix string
	next   atomic.Uint64

	mu    sync.Mutex
	slots map[string]chan *Msg
}

func newRespMux() *respMux {
	return &respMux{
		prefix: inboxPrefix + uuid.NewString() + ".",
		slots:  make(map[string]chan *Msg),
	}
}

// newReply allocates a fresh reply subject and registers its slot.
func (r *respMux) newReply() (string, chan *Msg) {
	subject := r.prefix + strconv.FormatUint(r.next.Add(1), 10)
	ch := make(chan *Msg, 1)
	r.mu.Lock()
	r.slots[subject] = ch
	r.mu.Unlock()
	return subject, ch
}

// take removes and returns the slot for subject, if still registered.
func (r *respMux) take(subject string) (chan *Msg, bool) {
	r.mu.Lock()
	ch, ok := r.slots[subject]
	if ok {
		delete(r.slots, subject)
	}
	r.mu.Unlock()
	return ch, ok
}

// drop removes the slot without completing it, on timeout or cancel.
func (r *respMux) drop(subject string) {
	r.mu.Lock()
	delete(r.slots, subject)
	r.mu.Unlock()
}

// dispatch completes the slot addressed by the message subject. A
// missing slot means the request already timed out; the reply is
// silently discarded.
func (r *respMux) dispatch(m *Msg) {
	if ch, ok := r.take(m.Subject); ok {
		ch <- m
	}
}

// initRequests installs the wildcard reply subscription and spawns the
// correlator. Called once, on the first Request.
func (c *Conn) initRequests(ctx context.Context) error {
	c.respOnce.Do(func() {
		mux := newRespMux()
		sub, err := c.subscribe(ctx, mux.prefix+">", "", c.opts.RequestQueueLen)
		if err != nil {
			c.respErr = err
			return
		}
		c.resp = mux
		go func() {
			for {
				m, err := sub.Next(context.Background())
				if err != nil {
					return
				}
				mux.dispatch(m)
			}
		}()
	})
	return c.respErr
}

// Request publishes a message with a private reply subject and awaits
// the response. When ctx carries no deadline the configured
// RequestTimeout applies. A configured circuit breaker short-circuits
// requests while the breaker is open.
func (c *Conn) Request(ctx context.Context, subject string, data []byte) (*Msg, error) {
	if c.breaker == nil {
		return c.request(ctx, subject, data)
	}
	res, err := c.breaker.Execute(func() (any, error) {
		return c.request(ctx, subject, data)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Msg), nil
}

// RequestObject encodes v with the serializer, performs the request,
// and decodes the response body into reply.
func (c *Conn) RequestObject(ctx context.Context, subject string, v, reply any) error {
	data, err := c.opts.Serializer.Encode(v)
	if err != nil {
		return err
	}
	m, err := c.Request(ctx, subject, data)
	if err != nil {
		return err
	}
	if err := c.opts.Serializer.Decode(m.Data, reply); err != nil {
		derr := &DecodeError{Subject: subject, Err: err}
		c.notifyError(derr)
		return derr
	}
	return nil
}

func (c *Conn) request(ctx context.Context, subject string, data []byte) (*Msg, error) {
	if c.state.isClosed() {
		return nil, ErrClosed
	}
	if err := c.initRequests(ctx); err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	reply, ch := c.resp.newReply()
	if err := c.publish(ctx, subject, reply, nil, data); err != nil {
		c.resp.drop(reply)
		return nil, err
	}

	select {
	case m := <-ch:
		return m, nil
	case <-ctx.Done():
		c.resp.drop(reply)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrRequestTimeout
		}
		return nil, ctx.Err()
	}
}
