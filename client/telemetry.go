// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RegisterMetrics exports the connection counters as OpenTelemetry
// observable instruments on the given meter. The returned registration
// unregisters the callback.
func (c *Conn) RegisterMetrics(meter metric.Meter) (metric.Registration, error) {
	msgsSent, err := meter.Int64ObservableCounter("nats.client.messages.sent",
		metric.WithDescription("Frames handed to the socket"))
	if err != nil {
		return nil, err
	}
	msgsReceived, err := meter.Int64ObservableCounter("nats.client.messages.received",
		metric.WithDescription("MSG and HMSG frames parsed"))
	if err != nil {
		return nil, err
	}
	bytesSent, err := meter.Int64ObservableCounter("nats.client.bytes.sent",
		metric.WithDescription("Bytes written to the socket"))
	if err != nil {
		return nil, err
	}
	bytesReceived, err := meter.Int64ObservableCounter("nats.client.bytes.received",
		metric.WithDescription("Bytes read from the socket"))
	if err != nil {
		return nil, err
	}
	queued, err := meter.Int64ObservableGauge("nats.client.sender.queue.bytes",
		metric.WithDescription("Bytes awaiting transmission"))
	if err != nil {
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("server.address", c.opts.Addr))
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := c.stats.Snapshot()
		o.ObserveInt64(msgsSent, int64(s.MsgsSent), attrs)
		o.ObserveInt64(msgsReceived, int64(s.MsgsReceived), attrs)
		o.ObserveInt64(bytesSent, int64(s.BytesSent), attrs)
		o.ObserveInt64(bytesReceived, int64(s.BytesReceived), attrs)
		o.ObserveInt64(queued, s.SenderQueueBytes, attrs)
		return nil
	}, msgsSent, msgsReceived, bytesSent, bytesReceived, queued)
}
