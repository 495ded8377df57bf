// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/fluxnats/client"
	"github.com/absmach/fluxnats/config"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: fluxnats [-config file] <pub|sub|req> <subject> [payload]")
		os.Exit(2)
	}
	verb, subject := args[0], args[1]
	var payload string
	if len(args) > 2 {
		payload = args[2]
	}

	opts := optionsFrom(cfg, logger)
	conn := client.New(opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := conn.Connect(ctx); err != nil {
		slog.Error("Failed to connect", "addr", cfg.Server.Addr, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	switch verb {
	case "pub":
		err = runPub(ctx, conn, subject, payload)
	case "sub":
		err = runSub(ctx, conn, subject)
	case "req":
		err = runReq(ctx, conn, subject, payload)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		os.Exit(2)
	}
	if err != nil && ctx.Err() == nil {
		slog.Error("Command failed", "command", verb, "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func optionsFrom(cfg *config.Config, logger *slog.Logger) *client.Options {
	opts := client.NewOptions().
		SetAddr(cfg.Server.Addr).
		SetName(cfg.Server.Name).
		SetLogger(logger)
	opts.User = cfg.Server.User
	opts.Pass = cfg.Server.Pass
	opts.AuthToken = cfg.Server.AuthToken
	opts.Verbose = cfg.Client.Verbose
	opts.Pedantic = cfg.Client.Pedantic
	opts.NoEcho = cfg.Client.NoEcho
	opts.SenderQueueLen = cfg.Client.SenderQueueLen
	opts.InboxQueueLen = cfg.Client.InboxQueueLen
	opts.ReadPipeHighWater = cfg.Client.ReadPipeHighWater
	opts.MaxPayload = cfg.Client.MaxPayload
	if cfg.Client.ReconnectDelay > 0 {
		opts.ReconnectDelay = cfg.Client.ReconnectDelay
	}
	opts.ReconnectMaxDelay = cfg.Client.ReconnectMaxDelay
	if cfg.Client.PingInterval > 0 {
		opts.PingInterval = cfg.Client.PingInterval
	}
	if cfg.Client.RequestTimeout > 0 {
		opts.RequestTimeout = cfg.Client.RequestTimeout
	}
	if cfg.Server.WebSocket {
		opts.Dialer = &client.WSDialer{HandshakeTimeout: opts.ConnectTimeout}
	}
	opts.OnError = func(err error) {
		logger.Warn("connection event", "error", err)
	}
	return opts
}

func runPub(ctx context.Context, conn *client.Conn, subject, payload string) error {
	if err := conn.Publish(ctx, subject, []byte(payload)); err != nil {
		return err
	}
	return conn.Flush(ctx)
}

func runSub(ctx context.Context, conn *client.Conn, subject string) error {
	sub, err := conn.Subscribe(ctx, subject)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe(context.Background())

	slog.Info("Subscribed", "subject", subject)
	for {
		m, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("[%s] %s\n", m.Subject, m.Data)
	}
}

func runReq(ctx context.Context, conn *client.Conn, subject, payload string) error {
	m, err := conn.Request(ctx, subject, []byte(payload))
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", m.Data)
	return nil
}
