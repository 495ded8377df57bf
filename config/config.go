// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads YAML configuration for the fluxnats CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the CLI tool.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig identifies and authenticates against the NATS server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	WebSocket bool   `yaml:"websocket"` // Addr is a ws:// URL
	Name      string `yaml:"name"`
	User      string `yaml:"user"`
	Pass      string `yaml:"pass"`
	AuthToken string `yaml:"auth_token"`
}

// ClientConfig tunes the wire engine.
type ClientConfig struct {
	Verbose           bool          `yaml:"verbose"`
	Pedantic          bool          `yaml:"pedantic"`
	NoEcho            bool          `yaml:"no_echo"`
	SenderQueueLen    int           `yaml:"sender_queue_length"`
	InboxQueueLen     int           `yaml:"receiver_queue_length"`
	ReadPipeHighWater int           `yaml:"read_pipe_high_water_bytes"`
	MaxPayload        int           `yaml:"max_payload"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:4222",
		},
		Client: ClientConfig{
			ReconnectDelay: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path, applying defaults for anything
// unset. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not text or json", c.Log.Format)
	}
	if c.Client.SenderQueueLen < 0 || c.Client.InboxQueueLen < 0 {
		return fmt.Errorf("queue lengths must be non-negative")
	}
	return nil
}
