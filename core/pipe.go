// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"errors"
	"sync"
)

// ErrPipeClosed is returned by Pipe operations after Close.
var ErrPipeClosed = errors.New("pipe closed")

// Pipe is a bounded FIFO of pooled byte buffers connecting the socket
// receiver to the dispatcher. Writes suspend once the buffered byte
// count reaches the high-water mark, propagating back pressure to the
// socket read loop.
type Pipe struct {
	mu        sync.Mutex
	bufs      []*Buffer
	size      int
	highWater int
	closed    bool
	err       error

	readable chan struct{}
	writable chan struct{}
}

// NewPipe creates a pipe with the given high-water mark in bytes.
func NewPipe(highWater int) *Pipe {
	return &Pipe{
		highWater: highWater,
		readable:  make(chan struct{}, 1),
		writable:  make(chan struct{}, 1),
	}
}

// Buffered returns the number of bytes currently queued.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Write enqueues b, transferring ownership to the pipe. It suspends
// while the pipe is at or above its high-water mark. On error the
// buffer is released.
func (p *Pipe) Write(ctx context.Context, b *Buffer) error {
	for {
		p.mu.Lock()
		if p.closed {
			err := p.closeErr()
			p.mu.Unlock()
			b.Release()
			return err
		}
		if p.size < p.highWater {
			p.bufs = append(p.bufs, b)
			p.size += b.Len()
			p.mu.Unlock()
			signal(p.readable)
			return nil
		}
		p.mu.Unlock()

		select {
		case <-p.writable:
		case <-ctx.Done():
			b.Release()
			return ctx.Err()
		}
	}
}

// Read dequeues the next buffer, transferring ownership to the caller.
// It suspends while the pipe is empty. After Close, buffered data is
// still drained before the close error is surfaced.
func (p *Pipe) Read(ctx context.Context) (*Buffer, error) {
	for {
		p.mu.Lock()
		if len(p.bufs) > 0 {
			b := p.bufs[0]
			p.bufs = p.bufs[1:]
			p.size -= b.Len()
			p.mu.Unlock()
			signal(p.writable)
			return b, nil
		}
		if p.closed {
			err := p.closeErr()
			p.mu.Unlock()
			return nil, err
		}
		p.mu.Unlock()

		select {
		case <-p.readable:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// CloseWithError marks the pipe closed. A nil err reports an orderly
// EOF as ErrPipeClosed. Buffered data remains readable; further writes
// fail.
func (p *Pipe) CloseWithError(err error) {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.err = err
	}
	p.mu.Unlock()
	signal(p.readable)
	signal(p.writable)
}

// Drain releases all buffered data. Call when tearing the pipe down.
func (p *Pipe) Drain() {
	p.mu.Lock()
	bufs := p.bufs
	p.bufs = nil
	p.size = 0
	p.mu.Unlock()
	for _, b := range bufs {
		b.Release()
	}
}

func (p *Pipe) closeErr() error {
	if p.err != nil {
		return p.err
	}
	return ErrPipeClosed
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
