// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/absmach/fluxnats/core"
)

// Msg is a message as seen by a subscriber. Data and Header are owned
// by the caller once yielded.
type Msg struct {
	Subject string
	Reply   string
	Header  core.Header
	Data    []byte

	conn *Conn
}

// Respond publishes data to the message's reply subject.
func (m *Msg) Respond(ctx context.Context, data []byte) error {
	if m.Reply == "" {
		return ErrNoReply
	}
	return m.conn.Publish(ctx, m.Reply, data)
}

// RespondObject encodes v with the connection's serializer and
// publishes it to the reply subject.
func (m *Msg) RespondObject(ctx context.Context, v any) error {
	if m.Reply == "" {
		return ErrNoReply
	}
	return m.conn.PublishObject(ctx, m.Reply, v)
}
