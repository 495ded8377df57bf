// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"sync"
	"sync/atomic"
)

// Buffer is a pooled, reference-counted byte buffer. A buffer starts
// with a reference count of 1. Retain() increments the count, Release()
// decrements it, and the buffer returns to its pool when the count
// reaches 0.
//
// Message payloads fan out to several holders (the dispatcher and every
// receiving subscription); sharing one buffer through a reference count
// avoids copying the payload per holder.
type Buffer struct {
	data []byte
	refs atomic.Int32
	pool *BufferPool
}

// Bytes returns the used region of the buffer.
// The slice must not be modified once the buffer is shared.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the used length of the buffer.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Truncate shrinks the used region to n bytes. The receiver reads into a
// full-size buffer and truncates it to the bytes actually read.
func (b *Buffer) Truncate(n int) {
	if n < 0 || n > cap(b.data) {
		panic("core: truncate out of range")
	}
	b.data = b.data[:n]
}

// Retain increments the reference count. Call before handing the buffer
// to another holder.
func (b *Buffer) Retain() {
	if b == nil {
		return
	}
	b.refs.Add(1)
}

// Release decrements the reference count and returns the buffer to the
// pool when it reaches 0. Every holder must call it exactly once;
// releasing an already-released buffer panics.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	n := b.refs.Add(-1)
	switch {
	case n == 0:
		if b.pool != nil {
			b.pool.put(b)
		}
	case n < 0:
		panic("core: buffer released after reaching zero references")
	}
}

// RefCount returns the current reference count.
func (b *Buffer) RefCount() int32 {
	if b == nil {
		return 0
	}
	return b.refs.Load()
}

// Buffers below minBufferSize are rounded up; buffers above
// maxPooledSize are allocated directly and never pooled.
const (
	minBufferSize = 64
	maxPooledSize = 1 << 20 // 1 MiB
	numClasses    = 15      // 64 B .. 1 MiB, powers of two
)

// BufferPool lends contiguous writable byte regions of at least the
// requested size, bucketed by power-of-two size classes. The pool grows
// on demand; returned buffers are reused.
type BufferPool struct {
	classes [numClasses]sync.Pool

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewBufferPool creates an empty buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{}
}

// classFor returns the smallest size class index covering size, or -1
// when the size exceeds the pooled maximum.
func classFor(size int) int {
	c, class := 0, minBufferSize
	for class < size {
		c++
		class <<= 1
	}
	if class > maxPooledSize {
		return -1
	}
	return c
}

// Get lends a buffer whose used region is exactly size bytes and whose
// capacity is at least size. The returned buffer has one reference.
func (p *BufferPool) Get(size int) *Buffer {
	c := classFor(size)
	if c < 0 {
		p.misses.Add(1)
		b := &Buffer{data: make([]byte, size)}
		b.refs.Store(1)
		return b
	}

	if v := p.classes[c].Get(); v != nil {
		b := v.(*Buffer)
		b.data = b.data[:size]
		b.refs.Store(1)
		p.hits.Add(1)
		return b
	}

	p.misses.Add(1)
	b := &Buffer{data: make([]byte, size, minBufferSize<<c), pool: p}
	b.refs.Store(1)
	return b
}

// GetCopy lends a buffer containing a copy of data.
func (p *BufferPool) GetCopy(data []byte) *Buffer {
	b := p.Get(len(data))
	copy(b.data, data)
	return b
}

func (p *BufferPool) put(b *Buffer) {
	c := classFor(cap(b.data))
	if c < 0 || minBufferSize<<c != cap(b.data) {
		// Oddly sized or oversized buffers are left to the GC.
		return
	}
	p.classes[c].Put(b)
}

// Hits returns the number of Get calls served from the pool.
func (p *BufferPool) Hits() uint64 { return p.hits.Load() }

// Misses returns the number of Get calls that allocated.
func (p *BufferPool) Misses() uint64 { return p.misses.Load() }
