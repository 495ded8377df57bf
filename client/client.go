// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client implements an asynchronous NATS client. One long-lived
// connection multiplexes any number of publishers, subscribers and
// request/response exchanges; a supervisor keeps the connection alive
// across transient failures and replays subscriptions on reconnect.
package client

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/absmach/fluxnats/core"
)

// Version is the client version reported in CONNECT.
const Version = "0.1.0"

// Conn is a thread-safe NATS client connection.
type Conn struct {
	opts   *Options
	logger *slog.Logger
	pool   *core.BufferPool
	state  *stateManager

	registry *registry
	sendQ    chan *core.Buffer
	stats    *Stats

	serverInfo atomic.Pointer[core.ServerInfo]

	// Request/response, installed lazily.
	resp     *respMux
	respOnce sync.Once
	respErr  error
	breaker  *gobreaker.CircuitBreaker

	// Supervisor lifecycle.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// PING liveness and Flush barriers.
	pingsOut    atomic.Int32
	pongMu      sync.Mutex
	pongWaiters []chan struct{}
}

// New creates a client with the given options. A nil opts selects
// defaults.
func New(opts *Options) *Conn {
	if opts == nil {
		opts = NewOptions()
	}
	opts = opts.normalized()

	c := &Conn{
		opts:     opts,
		logger:   opts.Logger,
		pool:     core.NewBufferPool(),
		registry: newRegistry(),
		sendQ:    make(chan *core.Buffer, opts.SenderQueueLen),
		stats:    &Stats{},
	}
	c.state = newStateManager(func(s Status) {
		if opts.OnStatusChange != nil {
			opts.OnStatusChange(s)
		}
	})
	if opts.Breaker != nil {
		c.breaker = gobreaker.NewCircuitBreaker(*opts.Breaker)
	}
	return c
}

// Connect dials the server and starts the supervisor. The first dial
// is synchronous so misconfiguration surfaces immediately; later
// failures are retried in the background.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.isClosed() {
		return ErrClosed
	}
	if !c.state.transition(StatusDisconnected, StatusConnecting) {
		return ErrAlreadyConnected
	}

	conn, err := c.opts.Dialer.DialContext(ctx, c.opts.Addr)
	if err != nil {
		c.state.set(StatusDisconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, conn)
	return nil
}

// Disconnect stops the supervisor and closes the socket. The client
// may connect again; registered subscriptions stay installed.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.isClosed() {
		return ErrClosed
	}
	c.stopLocked()
	c.state.set(StatusDisconnected)
	return nil
}

// Close disposes the client permanently: the supervisor stops, all
// subscription readers finish, and further operations fail with
// ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.isClosed() {
		return nil
	}
	c.stopLocked()
	c.state.set(StatusClosed)
	c.registry.closeAll()
	return nil
}

func (c *Conn) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
}

// Status returns the current connection status.
func (c *Conn) Status() Status { return c.state.get() }

// ServerInfo returns the most recent INFO payload, or nil before the
// first connect.
func (c *Conn) ServerInfo() *core.ServerInfo { return c.serverInfo.Load() }

// Stats returns the connection counters.
func (c *Conn) Stats() *Stats { return c.stats }

// run is the supervisor loop: connect, spawn the I/O stages, wait for
// any of them to fail, tear the cycle down, and retry until cancelled.
func (c *Conn) run(ctx context.Context, conn net.Conn) {
	defer close(c.done)

	delay := c.reconnectPolicy()
	for {
		if conn == nil {
			c.state.set(StatusConnecting)
			var err error
			conn, err = c.opts.Dialer.DialContext(ctx, c.opts.Addr)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("dial failed",
					slog.String("addr", c.opts.Addr),
					slog.Any("error", err))
				c.notifyError(err)
				if !c.sleep(ctx, delay.NextBackOff()) {
					return
				}
				continue
			}
		}
		delay.Reset()

		err := c.runCycle(ctx, conn)
		conn.Close()
		conn = nil
		if ctx.Err() != nil {
			return
		}

		c.state.set(StatusDisconnected)
		c.logger.Info("connection lost",
			slog.String("addr", c.opts.Addr),
			slog.Any("error", err))
		if err != nil && err != ErrConnectionLost {
			c.notifyError(err)
		}
		if !c.sleep(ctx, delay.NextBackOff()) {
			return
		}
	}
}

// runCycle drives one connected period: Receiver, Dispatcher and
// Sender share a cancel scope; the first to return ends the cycle and
// the siblings are cancelled.
func (c *Conn) runCycle(ctx context.Context, conn net.Conn) error {
	pipe := core.NewPipe(c.opts.ReadPipeHighWater)
	defer func() {
		pipe.Drain()
		c.stats.receiverQueueBytes.Store(0)
	}()

	preamble, err := c.buildPreamble()
	if err != nil {
		return err
	}

	snd := &sender{
		w:        conn,
		queue:    c.sendQ,
		preamble: preamble,
		scratch:  make([]byte, c.opts.WriteScratchSize),
		stats:    c.stats,
	}
	dsp := &dispatcher{
		c:      c,
		pipe:   pipe,
		parser: core.NewParser(c.pool, c.opts.MaxPayload),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.runReceiver(gctx, conn, pipe) })
	g.Go(func() error { return dsp.run(gctx) })
	g.Go(func() error { return snd.run(gctx) })
	if c.opts.PingInterval > 0 {
		g.Go(func() error { return c.runPinger(gctx) })
	}
	// Unblock the receiver's socket read once the cycle is cancelled.
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	c.pingsOut.Store(0)
	c.state.set(StatusConnected)
	c.logger.Info("connected", slog.String("addr", c.opts.Addr))

	err = g.Wait()
	// PINGs written on this socket will never be answered; drop the
	// remaining PONG slots so the FIFO stays aligned with the next
	// cycle's PINGs. Slots registered before a cycle starts are kept,
	// as their PINGs are still queued for that cycle.
	c.pongMu.Lock()
	c.pongWaiters = nil
	c.pongMu.Unlock()
	return err
}

// buildPreamble serializes CONNECT followed by one SUB per registered
// subscription, replayed with their original sids.
func (c *Conn) buildPreamble() ([]*core.Buffer, error) {
	connect, err := core.BuildConnect(c.pool, core.ConnectOptions{
		Verbose:   c.opts.Verbose,
		Pedantic:  c.opts.Pedantic,
		AuthToken: c.opts.AuthToken,
		User:      c.opts.User,
		Pass:      c.opts.Pass,
		Name:      c.opts.Name,
		Lang:      "go",
		Version:   Version,
		Protocol:  1,
		Echo:      !c.opts.NoEcho,
		Headers:   true,
	})
	if err != nil {
		return nil, err
	}

	frames := []*core.Buffer{connect}
	for _, sub := range c.registry.snapshot() {
		f, err := core.BuildSub(c.pool, sub.Subject, sub.Queue, sub.sid)
		if err != nil {
			for _, b := range frames {
				b.Release()
			}
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// runPinger sends PING on the configured interval and fails the cycle
// when too many go unanswered.
func (c *Conn) runPinger(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if int(c.pingsOut.Add(1)) > c.opts.MaxPingsOut {
				return ErrConnectionLost
			}
			if err := c.sendPing(ctx, nil); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) reconnectPolicy() backoff.BackOff {
	if c.opts.ReconnectMaxDelay > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.opts.ReconnectDelay
		b.MaxInterval = c.opts.ReconnectMaxDelay
		return b
	}
	return backoff.NewConstantBackOff(c.opts.ReconnectDelay)
}

func (c *Conn) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// enqueue hands a serialized frame to the sender queue, awaiting
// capacity. On cancellation before the hand-off the buffer returns to
// the pool unwritten.
func (c *Conn) enqueue(ctx context.Context, b *core.Buffer) error {
	c.stats.senderQueueBytes.Add(int64(b.Len()))
	select {
	case c.sendQ <- b:
		return nil
	case <-ctx.Done():
		c.stats.senderQueueBytes.Add(int64(-b.Len()))
		b.Release()
		return ctx.Err()
	}
}

// Publish sends data to a subject.
func (c *Conn) Publish(ctx context.Context, subject string, data []byte) error {
	return c.publish(ctx, subject, "", nil, data)
}

// PublishRequest sends data to a subject with a reply subject for the
// receiver to respond on.
func (c *Conn) PublishRequest(ctx context.Context, subject, reply string, data []byte) error {
	return c.publish(ctx, subject, reply, nil, data)
}

// PublishMsg sends a message, using HPUB when headers are present.
func (c *Conn) PublishMsg(ctx context.Context, m *Msg) error {
	return c.publish(ctx, m.Subject, m.Reply, m.Header, m.Data)
}

// PublishObject encodes v with the configured serializer and publishes
// it to the subject.
func (c *Conn) PublishObject(ctx context.Context, subject string, v any) error {
	data, err := c.opts.Serializer.Encode(v)
	if err != nil {
		return err
	}
	return c.publish(ctx, subject, "", nil, data)
}

func (c *Conn) publish(ctx context.Context, subject, reply string, hdr core.Header, data []byte) error {
	if c.state.isClosed() {
		return ErrClosed
	}

	var b *core.Buffer
	var err error
	if hdr != nil {
		b, err = core.BuildHPub(c.pool, subject, reply, hdr, data)
	} else {
		b, err = core.BuildPub(c.pool, subject, reply, data)
	}
	if err != nil {
		return err
	}
	return c.enqueue(ctx, b)
}

// Subscribe registers interest in a subject and returns the
// subscription feeding its messages.
func (c *Conn) Subscribe(ctx context.Context, subject string) (*Subscription, error) {
	return c.subscribe(ctx, subject, "", c.opts.InboxQueueLen)
}

// QueueSubscribe registers interest in a subject as part of a queue
// group; the server load-balances delivery among the group's members.
func (c *Conn) QueueSubscribe(ctx context.Context, subject, queue string) (*Subscription, error) {
	return c.subscribe(ctx, subject, queue, c.opts.InboxQueueLen)
}

func (c *Conn) subscribe(ctx context.Context, subject, queue string, capacity int) (*Subscription, error) {
	if c.state.isClosed() {
		return nil, ErrClosed
	}

	// Validate before installing so a bad subject never enters the
	// registry.
	if err := core.ValidateSubject(subject); err != nil {
		return nil, err
	}
	if queue != "" {
		if err := core.ValidateSubject(queue); err != nil {
			return nil, err
		}
	}

	sub := c.registry.add(c, subject, queue, capacity)

	// Announce through the queue as well as via the supervisor's
	// resubscribe replay; a duplicate SUB for the same sid is a no-op
	// on the server, while relying on replay alone would drop
	// subscriptions added between the replay snapshot and the
	// connected transition.
	f, err := core.BuildSub(c.pool, subject, queue, sub.sid)
	if err == nil {
		err = c.enqueue(ctx, f)
	}
	if err != nil {
		c.registry.remove(sub.sid)
		sub.close()
		return nil, err
	}
	return sub, nil
}

func (c *Conn) unsubscribe(ctx context.Context, sub *Subscription, maxMsgs int) error {
	if c.state.isClosed() {
		return ErrClosed
	}
	if maxMsgs <= 0 {
		if !c.registry.remove(sub.sid) {
			return nil
		}
		sub.close()
	}
	return c.enqueue(ctx, core.BuildUnsub(c.pool, sub.sid, maxMsgs))
}

// Flush sends a PING and awaits the matching PONG, confirming every
// frame queued before it reached the server.
func (c *Conn) Flush(ctx context.Context) error {
	if c.state.isClosed() {
		return ErrClosed
	}

	ch := make(chan struct{})
	if err := c.sendPing(ctx, ch); err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		c.removePongWaiter(ch)
		return ctx.Err()
	}
}

// sendPing queues a PING and reserves the matching slot in the PONG
// FIFO. Liveness pings pass a nil slot; Flush passes its barrier.
func (c *Conn) sendPing(ctx context.Context, ch chan struct{}) error {
	c.pongMu.Lock()
	c.pongWaiters = append(c.pongWaiters, ch)
	c.pongMu.Unlock()

	if err := c.enqueue(ctx, core.BuildPing(c.pool)); err != nil {
		c.removePongWaiter(ch)
		return err
	}
	return nil
}

func (c *Conn) removePongWaiter(ch chan struct{}) {
	c.pongMu.Lock()
	for i, w := range c.pongWaiters {
		if w == ch {
			c.pongWaiters = append(c.pongWaiters[:i], c.pongWaiters[i+1:]...)
			break
		}
	}
	c.pongMu.Unlock()
}

// handlePong resets ping liveness and completes the oldest Flush
// barrier.
func (c *Conn) handlePong() {
	c.pingsOut.Store(0)
	c.pongMu.Lock()
	if len(c.pongWaiters) > 0 {
		if ch := c.pongWaiters[0]; ch != nil {
			close(ch)
		}
		c.pongWaiters = c.pongWaiters[1:]
	}
	c.pongMu.Unlock()
}

func (c *Conn) notifyError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}
