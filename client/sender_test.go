// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/absmach/fluxnats/core"
)

// recordingWriter captures each Write call separately.
type recordingWriter struct {
	writes [][]byte
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (w *recordingWriter) all() []byte {
	return bytes.Join(w.writes, nil)
}

func frameOf(t *testing.T, pool *core.BufferPool, subject, payload string) *core.Buffer {
	t.Helper()
	b, err := core.BuildPub(pool, subject, "", []byte(payload))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return b
}

func TestSenderCoalescesBurst(t *testing.T) {
	pool := core.NewBufferPool()
	w := &recordingWriter{}
	s := &sender{w: w, scratch: make([]byte, 1024), stats: &Stats{}}

	frames := []*core.Buffer{
		frameOf(t, pool, "a", "1"),
		frameOf(t, pool, "b", "2"),
		frameOf(t, pool, "c", "3"),
	}
	var wantBytes int
	for _, f := range frames {
		wantBytes += f.Len()
		s.stats.senderQueueBytes.Add(int64(f.Len()))
	}

	if err := s.writeBurst(frames); err != nil {
		t.Fatalf("writeBurst: %v", err)
	}

	if len(w.writes) != 1 {
		t.Errorf("writes = %d, want 1 coalesced write", len(w.writes))
	}
	if got := string(w.all()); got != "PUB a 1\r\n1\r\nPUB b 1\r\n2\r\nPUB c 1\r\n3\r\n" {
		t.Errorf("wire = %q", got)
	}
	if s.stats.MsgsSent() != 3 {
		t.Errorf("MsgsSent = %d, want 3", s.stats.MsgsSent())
	}
	if int(s.stats.BytesSent()) != wantBytes {
		t.Errorf("BytesSent = %d, want %d", s.stats.BytesSent(), wantBytes)
	}
	if s.stats.SenderQueueBytes() != 0 {
		t.Errorf("SenderQueueBytes = %d, want 0 after drain", s.stats.SenderQueueBytes())
	}
}

func TestSenderOversizeFrameWrittenDirect(t *testing.T) {
	pool := core.NewBufferPool()
	w := &recordingWriter{}
	s := &sender{w: w, scratch: make([]byte, 64), stats: &Stats{}}

	small := frameOf(t, pool, "s", "x")
	big := frameOf(t, pool, "big", strings.Repeat("y", 200))
	tail := frameOf(t, pool, "t", "z")
	for _, f := range []*core.Buffer{small, big, tail} {
		s.stats.senderQueueBytes.Add(int64(f.Len()))
	}

	if err := s.writeBurst([]*core.Buffer{small, big, tail}); err != nil {
		t.Fatalf("writeBurst: %v", err)
	}

	// small via scratch flush, big direct, tail via final flush.
	if len(w.writes) != 3 {
		t.Fatalf("writes = %d, want 3", len(w.writes))
	}
	if !bytes.HasPrefix(w.writes[1], []byte("PUB big 200\r\n")) {
		t.Errorf("oversize frame not written directly: %q", w.writes[1][:16])
	}

	// FIFO preserved and every frame whole: CRLF count matches frames.
	wire := w.all()
	if got := bytes.Count(wire, []byte("\r\n")); got != 6 {
		t.Errorf("CRLF count = %d, want 6 (two per frame)", got)
	}
	if s.stats.MsgsSent() != 3 {
		t.Errorf("MsgsSent = %d, want 3 (uniform counting incl. direct writes)", s.stats.MsgsSent())
	}
	if s.stats.SenderQueueBytes() != 0 {
		t.Errorf("SenderQueueBytes = %d, want 0", s.stats.SenderQueueBytes())
	}
}

func TestSenderScratchBoundaryFlush(t *testing.T) {
	pool := core.NewBufferPool()
	w := &recordingWriter{}
	s := &sender{w: w, scratch: make([]byte, 16), stats: &Stats{}}

	// Each frame is 13 bytes; two cannot share the 16-byte scratch.
	f1 := frameOf(t, pool, "a", "11")
	f2 := frameOf(t, pool, "b", "22")

	if err := s.writeBurst([]*core.Buffer{f1, f2}); err != nil {
		t.Fatalf("writeBurst: %v", err)
	}
	if len(w.writes) != 2 {
		t.Errorf("writes = %d, want 2", len(w.writes))
	}
	if got := string(w.all()); got != "PUB a 2\r\n11\r\nPUB b 2\r\n22\r\n" {
		t.Errorf("wire = %q, order not preserved", got)
	}
}

func TestSenderRunDrainsQueueAndPreamble(t *testing.T) {
	pool := core.NewBufferPool()
	w := &recordingWriter{}
	stats := &Stats{}
	queue := make(chan *core.Buffer, 8)

	connect, err := core.BuildConnect(pool, core.ConnectOptions{Lang: "go", Version: Version, Protocol: 1, Echo: true, Headers: true})
	if err != nil {
		t.Fatalf("build connect: %v", err)
	}
	s := &sender{w: w, queue: queue, preamble: []*core.Buffer{connect}, scratch: make([]byte, 1024), stats: stats}

	f := frameOf(t, pool, "q", "1")
	stats.senderQueueBytes.Add(int64(f.Len()))
	queue <- f

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if bytes.Contains(w.all(), []byte("PUB q 1\r\n")) {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("run err = %v, want context.Canceled", err)
	}

	wire := w.all()
	if !bytes.HasPrefix(wire, []byte("CONNECT ")) {
		t.Errorf("preamble not written first: %q", wire[:12])
	}
	if !bytes.Contains(wire, []byte("PUB q 1\r\n1\r\n")) {
		t.Errorf("queued frame not written: %q", wire)
	}
}
