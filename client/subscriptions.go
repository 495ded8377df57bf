// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/absmach/fluxnats/core"
)

// Subscription is a registered interest in a subject. Messages arrive
// on a bounded inbox and are consumed with Next. A subscription stays
// installed across reconnects; its sid never changes.
type Subscription struct {
	Subject string
	Queue   string

	sid       uint64
	conn      *Conn
	inbox     chan *core.MsgFrame
	max       atomic.Uint64 // auto-unsubscribe limit, 0 = none
	delivered atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

// Sid returns the subscription id.
func (s *Subscription) Sid() uint64 { return s.sid }

// Delivered returns the number of messages handed to the inbox.
func (s *Subscription) Delivered() uint64 { return s.delivered.Load() }

// Next yields the next message in wire order. It suspends until a
// message arrives, the context is cancelled, or the subscription is
// closed. Buffered messages are still drained after Unsubscribe.
func (s *Subscription) Next(ctx context.Context) (*Msg, error) {
	select {
	case f := <-s.inbox:
		return s.yield(f)
	default:
	}
	select {
	case f := <-s.inbox:
		return s.yield(f)
	case <-s.done:
		select {
		case f := <-s.inbox:
			return s.yield(f)
		default:
			return nil, ErrSubscriptionClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NextObject yields the next message and decodes its body into v using
// the connection's serializer.
func (s *Subscription) NextObject(ctx context.Context, v any) (*Msg, error) {
	m, err := s.Next(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.conn.opts.Serializer.Decode(m.Data, v); err != nil {
		derr := &DecodeError{Subject: m.Subject, Err: err}
		s.conn.notifyError(derr)
		return m, derr
	}
	return m, nil
}

// yield converts a parsed frame into a caller-owned message. The
// pooled payload buffer is released here; header and body bytes are
// copied out first.
func (s *Subscription) yield(f *core.MsgFrame) (*Msg, error) {
	m := &Msg{
		Subject: f.Subject,
		Reply:   f.Reply,
		Data:    append([]byte(nil), f.Body()...),
		conn:    s.conn,
	}
	var err error
	if f.Headered {
		m.Header, err = core.ParseHeaders(f.HeaderBlock())
		if err != nil {
			err = &DecodeError{Subject: f.Subject, Err: err}
			s.conn.notifyError(err)
		}
	}
	f.Payload.Release()
	return m, err
}

// Unsubscribe removes the subscription and tells the server to stop
// delivery. Messages already in the inbox may still be drained.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.conn.unsubscribe(ctx, s, 0)
}

// AutoUnsubscribe asks the server to drop the subscription after n
// more total deliveries; the client removes it once n messages have
// been handed to the inbox.
func (s *Subscription) AutoUnsubscribe(ctx context.Context, n int) error {
	s.max.Store(uint64(n))
	return s.conn.unsubscribe(ctx, s, n)
}

// close wakes all pending and future Next calls.
func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// registry maps sids to subscriptions. The map behind the atomic
// pointer is immutable; add and remove publish a fresh copy under the
// lock while per-message lookups read the current snapshot without
// locking.
type registry struct {
	mu      sync.Mutex
	subs    atomic.Pointer[map[uint64]*Subscription]
	nextSid atomic.Uint64
}

func newRegistry() *registry {
	r := &registry{}
	empty := map[uint64]*Subscription{}
	r.subs.Store(&empty)
	return r
}

// add installs a new subscription and returns it with a fresh sid.
func (r *registry) add(conn *Conn, subject, queue string, capacity int) *Subscription {
	sub := &Subscription{
		Subject: subject,
		Queue:   queue,
		sid:     r.nextSid.Add(1),
		conn:    conn,
		inbox:   make(chan *core.MsgFrame, capacity),
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.subs.Load()
	next := make(map[uint64]*Subscription, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[sub.sid] = sub
	r.subs.Store(&next)
	return sub
}

// remove uninstalls a subscription. It returns false when the sid was
// already gone.
func (r *registry) remove(sid uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.subs.Load()
	if _, ok := cur[sid]; !ok {
		return false
	}
	next := make(map[uint64]*Subscription, len(cur)-1)
	for k, v := range cur {
		if k != sid {
			next[k] = v
		}
	}
	r.subs.Store(&next)
	return true
}

// get returns the subscription for sid from the current snapshot.
func (r *registry) get(sid uint64) *Subscription {
	return (*r.subs.Load())[sid]
}

// snapshot returns all current subscriptions.
func (r *registry) snapshot() []*Subscription {
	cur := *r.subs.Load()
	out := make([]*Subscription, 0, len(cur))
	for _, s := range cur {
		out = append(out, s)
	}
	return out
}

// closeAll wakes every subscription's readers, for dispose.
func (r *registry) closeAll() {
	for _, s := range r.snapshot() {
		s.close()
	}
}
