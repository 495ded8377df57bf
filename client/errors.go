// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"

	"github.com/absmach/fluxnats/core"
)

// Client errors.
var (
	// Argument errors, raised synchronously to the caller.
	ErrInvalidSubject = core.ErrInvalidSubject
	ErrMaxPayload     = core.ErrMaxPayload
	ErrNoReply        = errors.New("message has no reply subject")

	// State-machine violations.
	ErrAlreadyConnected = errors.New("client already connected")
	ErrNotConnected     = errors.New("client not connected")
	ErrClosed           = errors.New("client has been closed")

	// Operation outcomes.
	ErrRequestTimeout     = errors.New("request timed out")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrConnectionLost     = errors.New("connection lost")
)

// ServerError carries the message of a -ERR frame. It is surfaced
// through the error callback, never returned from individual
// operations.
type ServerError struct {
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}

// DecodeError wraps a payload codec failure. It is returned to the
// subscriber that requested decoding and surfaced through the error
// callback.
type DecodeError struct {
	Subject string
	Err     error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message on %q: %v", e.Subject, e.Err)
}

// Unwrap returns the codec error.
func (e *DecodeError) Unwrap() error { return e.Err }
