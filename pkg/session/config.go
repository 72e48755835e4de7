package session

import (
	"log/slog"
	"time"

	"github.com/tether-chat/tether/pkg/transport"
)

// Config holds configuration for a Session.
type Config struct {
	// URL is the WebSocket endpoint of the chat server.
	URL string

	// Dialer opens the transport connection.
	// Default: transport.NewWebSocketDialer(nil).
	Dialer transport.Dialer

	// Dispatcher is the execution context all handler callbacks are marshaled
	// onto. UI front ends pass their main-loop dispatcher here.
	// Default: a SerialDispatcher owned (and closed) by the session.
	Dispatcher Dispatcher

	// Logger receives structured logs.
	// Default: slog.Default().
	Logger *slog.Logger

	// Metrics is an optional Prometheus collector for session counters.
	// Default: nil (no metrics).
	Metrics *Metrics

	// Timeouts

	// HeartbeatInterval is the time between pings while authenticated. The
	// pong is consumed silently; the client enforces no liveness timeout of
	// its own and relies on the transport's close notification.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// AuthTimeout is the maximum wait for auth_success after sending auth.
	// Default: 10 seconds.
	AuthTimeout time.Duration

	// SendTimeout is the default wait for the echo of a correlated send.
	// Default: 10 seconds.
	SendTimeout time.Duration

	// Reconnection

	// ReconnectBaseDelay is the base for the linear backoff: the n-th attempt
	// waits n * ReconnectBaseDelay.
	// Default: 2 seconds.
	ReconnectBaseDelay time.Duration

	// MaxReconnectAttempts caps consecutive reconnect attempts. Once reached,
	// ErrReconnectExhausted is surfaced on OnError and the session stays
	// disconnected until the next explicit Connect.
	// Default: 5.
	MaxReconnectAttempts int

	// Callbacks, delivered on the Dispatcher.

	// OnStateChange is invoked on every state transition.
	OnStateChange func(State)

	// OnError receives server error frames and the persistent reconnect
	// failure. It never receives per-frame decode errors, which are logged
	// and dropped.
	OnError func(error)

	// OnConnected fires when the session reaches Authenticated, including
	// after an automatic reconnect.
	OnConnected func()

	// OnDisconnected fires when the session drops to Disconnected for any
	// reason, manual or not.
	OnDisconnected func()

	// OnReconnecting fires before each reconnect attempt with the attempt
	// number, starting at 1.
	OnReconnecting func(attempt int)
}

// DefaultConfig returns a Config with sensible defaults. URL must still be
// set by the caller.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval:    30 * time.Second,
		AuthTimeout:          10 * time.Second,
		SendTimeout:          10 * time.Second,
		ReconnectBaseDelay:   2 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WithURL sets the server endpoint and returns the config for chaining.
func (c *Config) WithURL(url string) *Config {
	c.URL = url
	return c
}

// WithDialer sets the transport dialer and returns the config for chaining.
func (c *Config) WithDialer(d transport.Dialer) *Config {
	c.Dialer = d
	return c
}

// WithDispatcher sets the callback dispatcher and returns the config for chaining.
func (c *Config) WithDispatcher(d Dispatcher) *Config {
	c.Dispatcher = d
	return c
}

// WithLogger sets the logger and returns the config for chaining.
func (c *Config) WithLogger(l *slog.Logger) *Config {
	c.Logger = l
	return c
}

// WithMetrics sets the metrics collector and returns the config for chaining.
func (c *Config) WithMetrics(m *Metrics) *Config {
	c.Metrics = m
	return c
}
