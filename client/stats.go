// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "sync/atomic"

// Stats tracks connection counters. Totals are monotonic; queue gauges
// move with the corresponding queue. All fields are safe to read
// without a lock.
type Stats struct {
	msgsSent      atomic.Uint64
	msgsReceived  atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	senderQueueBytes   atomic.Int64
	receiverQueueBytes atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	MsgsSent           uint64
	MsgsReceived       uint64
	BytesSent          uint64
	BytesReceived      uint64
	SenderQueueBytes   int64
	ReceiverQueueBytes int64
}

// MsgsSent returns the number of frames handed to the socket.
func (s *Stats) MsgsSent() uint64 { return s.msgsSent.Load() }

// MsgsReceived returns the number of MSG and HMSG frames parsed.
func (s *Stats) MsgsReceived() uint64 { return s.msgsReceived.Load() }

// BytesSent returns the number of bytes written to the socket.
func (s *Stats) BytesSent() uint64 { return s.bytesSent.Load() }

// BytesReceived returns the number of bytes read from the socket.
func (s *Stats) BytesReceived() uint64 { return s.bytesReceived.Load() }

// SenderQueueBytes returns the bytes currently queued for sending.
func (s *Stats) SenderQueueBytes() int64 { return s.senderQueueBytes.Load() }

// ReceiverQueueBytes returns the bytes buffered between the socket and
// the dispatcher.
func (s *Stats) ReceiverQueueBytes() int64 { return s.receiverQueueBytes.Load() }

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		MsgsSent:           s.MsgsSent(),
		MsgsReceived:       s.MsgsReceived(),
		BytesSent:          s.BytesSent(),
		BytesReceived:      s.BytesReceived(),
		SenderQueueBytes:   s.SenderQueueBytes(),
		ReceiverQueueBytes: s.ReceiverQueueBytes(),
	}
}

func (s *Stats) addSent(frames, bytes int) {
	s.msgsSent.Add(uint64(frames))
	s.bytesSent.Add(uint64(bytes))
}

func (s *Stats) addReceivedBytes(n int) {
	s.bytesReceived.Add(uint64(n))
}

func (s *Stats) addReceivedMsg() {
	s.msgsReceived.Add(1)
}
