package acp

import (
	"log/slog"
	"time"
)

// Config holds Session configuration.
type Config struct {
	FsHandler        FsHandler
	PermissionPolicy PermissionPolicy
	Logger           *slog.Logger
	Clock            func() time.Time
	ClientName       string
	ClientVersion    string
	EventBufferSize  int
	CancelTimeout    time.Duration
}

func defaultConfig() Config {
	return Config{
		ClientName:      "agentdesk",
		ClientVersion:   "0.1.0",
		EventBufferSize: 100,
		CancelTimeout:   5 * time.Second,
	}
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithClientInfo sets the client name and version sent in initialize.
func WithClientInfo(name, version string) Option {
	return func(c *Config) {
		c.ClientName = name
		c.ClientVersion = version
	}
}

// WithEventBufferSize sets the event channel buffer size. Once the buffer
// is full the session stops reading from the agent until events are drained.
func WithEventBufferSize(size int) Option {
	return func(c *Config) { c.EventBufferSize = size }
}

// WithCancelTimeout bounds how long Cancel waits for the agent to end the
// turn before the session is forced closed.
func WithCancelTimeout(d time.Duration) Option {
	return func(c *Config) { c.CancelTimeout = d }
}

// WithFsHandler sets the handler for fs/* requests.
func WithFsHandler(h FsHandler) Option {
	return func(c *Config) { c.FsHandler = h }
}

// WithPermissionPolicy sets the policy consulted for permission requests.
func WithPermissionPolicy(p PermissionPolicy) Option {
	return func(c *Config) { c.PermissionPolicy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Clock = now }
}
