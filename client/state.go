// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "sync/atomic"

// Status represents the connection state. Within one reconnect cycle
// transitions are monotonic: Disconnected, Connecting, Connected,
// Disconnected.
type Status uint32

// Connection statuses.
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusClosed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateManager handles atomic status transitions and change
// notification.
type stateManager struct {
	status atomic.Uint32
	notify func(Status)
}

func newStateManager(notify func(Status)) *stateManager {
	return &stateManager{notify: notify}
}

// get returns the current status.
func (sm *stateManager) get() Status {
	return Status(sm.status.Load())
}

// set unconditionally sets the status and announces the change.
func (sm *stateManager) set(s Status) {
	if Status(sm.status.Swap(uint32(s))) != s && sm.notify != nil {
		sm.notify(s)
	}
}

// transition attempts a compare-and-swap from one status to another and
// announces on success.
func (sm *stateManager) transition(from, to Status) bool {
	if !sm.status.CompareAndSwap(uint32(from), uint32(to)) {
		return false
	}
	if sm.notify != nil {
		sm.notify(to)
	}
	return true
}

// isConnected returns true if the client is connected.
func (sm *stateManager) isConnected() bool {
	return sm.get() == StatusConnected
}

// isClosed returns true if the client has been permanently closed.
func (sm *stateManager) isClosed() bool {
	return sm.get() == StatusClosed
}
