// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"testing"
	"time"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()

	if opts.Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", opts.Addr, DefaultAddr)
	}
	if opts.ReconnectDelay != time.Second {
		t.Errorf("ReconnectDelay = %v, want 1s", opts.ReconnectDelay)
	}
	if opts.SenderQueueLen != DefaultSenderQueueLen {
		t.Errorf("SenderQueueLen = %d", opts.SenderQueueLen)
	}
	if opts.ReadPipeHighWater != 1<<20 {
		t.Errorf("ReadPipeHighWater = %d, want 1 MiB", opts.ReadPipeHighWater)
	}
	if opts.Serializer == nil {
		t.Error("Serializer must default to JSON")
	}
	if opts.NoEcho {
		t.Error("echo must be on by default")
	}
}

func TestOptionsSetters(t *testing.T) {
	logger := slog.Default()
	opts := NewOptions().
		SetAddr("10.0.0.1:4222").
		SetName("svc").
		SetCredentials("u", "p").
		SetToken("tok").
		SetLogger(logger)

	if opts.Addr != "10.0.0.1:4222" || opts.Name != "svc" {
		t.Errorf("setters not applied: %+v", opts)
	}
	if opts.User != "u" || opts.Pass != "p" || opts.AuthToken != "tok" {
		t.Error("credential setters not applied")
	}
	if opts.Logger != logger {
		t.Error("logger setter not applied")
	}
}

func TestOptionsNormalizedFillsZeroValues(t *testing.T) {
	n := (&Options{}).normalized()

	if n.Addr != DefaultAddr {
		t.Errorf("Addr = %q", n.Addr)
	}
	if n.Dialer == nil {
		t.Error("Dialer must default to TCP")
	}
	if n.Logger == nil {
		t.Error("Logger must default to slog.Default")
	}
	if n.Serializer == nil {
		t.Error("Serializer must default to JSON")
	}
	if n.WriteScratchSize != DefaultWriteScratchSize {
		t.Errorf("WriteScratchSize = %d", n.WriteScratchSize)
	}
}

func TestOptionsNormalizedKeepsExplicitValues(t *testing.T) {
	o := NewOptions()
	o.SenderQueueLen = 7
	o.ReconnectDelay = 5 * time.Second

	n := o.normalized()
	if n.SenderQueueLen != 7 || n.ReconnectDelay != 5*time.Second {
		t.Errorf("explicit values overwritten: %+v", n)
	}
}
