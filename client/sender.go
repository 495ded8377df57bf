// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"io"

	"github.com/absmach/fluxnats/core"
)

// sender drains the outbound frame queue and coalesces bursts of small
// frames into single socket writes through a fixed scratch buffer.
// Frames leave the socket in queue order; each frame is written whole.
type sender struct {
	w        io.Writer
	queue    chan *core.Buffer
	preamble []*core.Buffer
	scratch  []byte
	stats    *Stats
}

// run writes the preamble (CONNECT plus resubscribe frames), then
// drains the queue until the context is cancelled or a write fails.
func (s *sender) run(ctx context.Context) error {
	for _, b := range s.preamble {
		s.stats.senderQueueBytes.Add(int64(b.Len()))
	}
	if err := s.writeBurst(s.preamble); err != nil {
		s.preamble = nil
		return err
	}
	s.preamble = nil

	burst := make([]*core.Buffer, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-s.queue:
			burst = append(burst[:0], b)
			// Greedily take everything already queued so one kernel
			// write covers the burst.
		drain:
			for {
				select {
				case b := <-s.queue:
					burst = append(burst, b)
				default:
					break drain
				}
			}
			if err := s.writeBurst(burst); err != nil {
				return err
			}
		}
	}
}

// writeBurst copies frames into the scratch buffer, flushing when full.
// Frames larger than the scratch are written directly from their pool
// buffer. Transmit counters move uniformly for coalesced and direct
// writes.
func (s *sender) writeBurst(frames []*core.Buffer) error {
	used := 0
	flush := func() error {
		if used == 0 {
			return nil
		}
		_, err := s.w.Write(s.scratch[:used])
		used = 0
		return err
	}

	for i, f := range frames {
		n := f.Len()
		if n > len(s.scratch) {
			if err := flush(); err != nil {
				releaseFrom(frames[i:], s.stats)
				return err
			}
			_, err := s.w.Write(f.Bytes())
			if err != nil {
				releaseFrom(frames[i:], s.stats)
				return err
			}
			s.stats.addSent(1, n)
			s.stats.senderQueueBytes.Add(int64(-n))
			f.Release()
			continue
		}
		if used+n > len(s.scratch) {
			if err := flush(); err != nil {
				releaseFrom(frames[i:], s.stats)
				return err
			}
		}
		copy(s.scratch[used:], f.Bytes())
		used += n
		s.stats.addSent(1, n)
		s.stats.senderQueueBytes.Add(int64(-n))
		f.Release()
	}
	return flush()
}

func releaseFrom(frames []*core.Buffer, stats *Stats) {
	for _, f := range frames {
		stats.senderQueueBytes.Add(int64(-f.Len()))
		f.Release()
	}
}
