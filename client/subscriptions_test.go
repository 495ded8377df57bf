// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fluxnats/core"
)

func TestRegistrySidsMonotonic(t *testing.T) {
	r := newRegistry()

	var last uint64
	for i := 0; i < 10; i++ {
		sub := r.add(nil, "a", "", 1)
		if sub.sid <= last {
			t.Fatalf("sid %d not greater than previous %d", sub.sid, last)
		}
		last = sub.sid
	}
}

func TestRegistrySidsNeverReused(t *testing.T) {
	r := newRegistry()

	s1 := r.add(nil, "a", "", 1)
	r.remove(s1.sid)
	s2 := r.add(nil, "a", "", 1)

	if s2.sid == s1.sid {
		t.Errorf("sid %d reused after removal", s1.sid)
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := newRegistry()

	s1 := r.add(nil, "a", "", 1)
	before := r.snapshot()

	r.add(nil, "b", "", 1)
	if len(before) != 1 {
		t.Errorf("existing snapshot changed by later add: %d entries", len(before))
	}
	if len(r.snapshot()) != 2 {
		t.Errorf("new snapshot missing added subscription")
	}

	r.remove(s1.sid)
	if r.get(s1.sid) != nil {
		t.Error("removed subscription still visible")
	}
}

func TestRegistryRemoveMissing(t *testing.T) {
	r := newRegistry()
	if r.remove(99) {
		t.Error("removing an unknown sid should report false")
	}
}

func TestSubscriptionNextFIFO(t *testing.T) {
	pool := core.NewBufferPool()
	r := newRegistry()
	c := New(nil)
	sub := r.add(c, "x", "", 8)

	for _, s := range []string{"one", "two", "three"} {
		sub.inbox <- &core.MsgFrame{Subject: "x", Sid: sub.sid, Payload: pool.GetCopy([]byte(s))}
	}

	ctx := context.Background()
	for _, want := range []string{"one", "two", "three"} {
		m, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if string(m.Data) != want {
			t.Errorf("data = %q, want %q", m.Data, want)
		}
	}
}

func TestSubscriptionNextDrainsAfterClose(t *testing.T) {
	pool := core.NewBufferPool()
	r := newRegistry()
	c := New(nil)
	sub := r.add(c, "x", "", 8)

	sub.inbox <- &core.MsgFrame{Subject: "x", Sid: sub.sid, Payload: pool.GetCopy([]byte("buffered"))}
	sub.close()

	m, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("buffered message should drain after close: %v", err)
	}
	if string(m.Data) != "buffered" {
		t.Errorf("data = %q", m.Data)
	}

	if _, err := sub.Next(context.Background()); err != ErrSubscriptionClosed {
		t.Errorf("err = %v, want ErrSubscriptionClosed", err)
	}
}

func TestSubscriptionNextContextCancel(t *testing.T) {
	r := newRegistry()
	c := New(nil)
	sub := r.add(c, "x", "", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestSubscriptionYieldReleasesPayload(t *testing.T) {
	pool := core.NewBufferPool()
	r := newRegistry()
	c := New(nil)
	sub := r.add(c, "x", "", 1)

	payload := pool.GetCopy([]byte("data"))
	sub.inbox <- &core.MsgFrame{Subject: "x", Sid: sub.sid, Payload: payload}

	m, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if payload.RefCount() != 0 {
		t.Errorf("payload refcount = %d after yield, want 0", payload.RefCount())
	}
	if string(m.Data) != "data" {
		t.Errorf("data = %q", m.Data)
	}
}
