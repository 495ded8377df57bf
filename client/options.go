// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/absmach/fluxnats/codec"
	"github.com/absmach/fluxnats/core"
)

// Default values.
const (
	DefaultAddr              = "127.0.0.1:4222"
	DefaultConnectTimeout    = 5 * time.Second
	DefaultReconnectDelay    = 1 * time.Second
	DefaultPingInterval      = 2 * time.Minute
	DefaultMaxPingsOut       = 2
	DefaultRequestTimeout    = 2 * time.Second
	DefaultSenderQueueLen    = 1024
	DefaultInboxQueueLen     = 512
	DefaultRequestQueueLen   = 512
	DefaultReadPipeHighWater = 1 << 20
	DefaultWriteScratchSize  = 1 << 20
)

// Options configures the client.
type Options struct {
	// Connection
	Addr           string        // Server address (host:port, or ws:// URL with WSDialer)
	Name           string        // Connection name sent in CONNECT
	User           string        // Optional username
	Pass           string        // Optional password
	AuthToken      string        // Optional authentication token
	ConnectTimeout time.Duration // Timeout for each dial attempt
	Dialer         Dialer        // Transport dialer (nil = TCP with Nagle disabled)

	// Protocol
	Verbose    bool // Request +OK acknowledgments
	Pedantic   bool // Request strict subject checking
	NoEcho     bool // Suppress delivery of own published messages
	MaxPayload int  // Inbound frame size limit (0 = 64 MiB)

	// Queueing
	SenderQueueLen    int // Outbound queue capacity, in frames
	InboxQueueLen     int // Per-subscription inbox capacity, in messages
	RequestQueueLen   int // Request/response wildcard inbox capacity
	ReadPipeHighWater int // Receiver-to-dispatcher pipe limit, in bytes
	WriteScratchSize  int // Sender coalescing buffer size, in bytes

	// Liveness and retry
	PingInterval      time.Duration // Client PING interval (0 disables)
	MaxPingsOut       int           // Outstanding PINGs tolerated before reconnect
	ReconnectDelay    time.Duration // Delay between reconnect attempts
	ReconnectMaxDelay time.Duration // If set, delays back off exponentially up to this

	// Request/response
	RequestTimeout time.Duration       // Applied when the request context has no deadline
	Breaker        *gobreaker.Settings // Optional circuit breaker guarding Request

	// Collaborators
	Serializer codec.Codec  // Payload codec for typed helpers (nil = JSON)
	Logger     *slog.Logger // Structured log sink (nil = slog.Default)

	// Callbacks. Invoked synchronously from client goroutines; they
	// must not block and must not call back into the client.
	OnStatusChange func(Status)           // Connection status transitions
	OnError        func(error)            // Transport, protocol and server errors
	OnServerInfo   func(*core.ServerInfo) // INFO payloads, replaced on each reconnect
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Addr:              DefaultAddr,
		ConnectTimeout:    DefaultConnectTimeout,
		ReconnectDelay:    DefaultReconnectDelay,
		PingInterval:      DefaultPingInterval,
		MaxPingsOut:       DefaultMaxPingsOut,
		RequestTimeout:    DefaultRequestTimeout,
		SenderQueueLen:    DefaultSenderQueueLen,
		InboxQueueLen:     DefaultInboxQueueLen,
		RequestQueueLen:   DefaultRequestQueueLen,
		ReadPipeHighWater: DefaultReadPipeHighWater,
		WriteScratchSize:  DefaultWriteScratchSize,
		Serializer:        codec.JSON{},
	}
}

// SetAddr sets the server address.
func (o *Options) SetAddr(addr string) *Options {
	o.Addr = addr
	return o
}

// SetName sets the connection name.
func (o *Options) SetName(name string) *Options {
	o.Name = name
	return o
}

// SetCredentials sets username and password authentication.
func (o *Options) SetCredentials(user, pass string) *Options {
	o.User = user
	o.Pass = pass
	return o
}

// SetToken sets token authentication.
func (o *Options) SetToken(token string) *Options {
	o.AuthToken = token
	return o
}

// SetLogger sets the log sink.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// normalized fills zero values with defaults.
func (o *Options) normalized() *Options {
	c := *o
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxPingsOut <= 0 {
		c.MaxPingsOut = DefaultMaxPingsOut
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SenderQueueLen <= 0 {
		c.SenderQueueLen = DefaultSenderQueueLen
	}
	if c.InboxQueueLen <= 0 {
		c.InboxQueueLen = DefaultInboxQueueLen
	}
	if c.RequestQueueLen <= 0 {
		c.RequestQueueLen = DefaultRequestQueueLen
	}
	if c.ReadPipeHighWater <= 0 {
		c.ReadPipeHighWater = DefaultReadPipeHighWater
	}
	if c.WriteScratchSize <= 0 {
		c.WriteScratchSize = DefaultWriteScratchSize
	}
	if c.Serializer == nil {
		c.Serializer = codec.JSON{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Dialer == nil {
		c.Dialer = &TCPDialer{Timeout: c.ConnectTimeout}
	}
	return &c
}
