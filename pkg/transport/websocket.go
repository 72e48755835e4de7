package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config holds configuration for WebSocket transport connections.
type Config struct {
	// HandshakeTimeout is the maximum time for the WebSocket handshake.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ReadLimit is the maximum size of an incoming frame.
	// Default: 512KB.
	ReadLimit int64

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// EnableCompression enables per-message compression.
	// Default: true.
	EnableCompression bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadLimit:         512 * 1024,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: true,
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

// WithWriteTimeout sets the write timeout and returns the config for chaining.
func (c *Config) WithWriteTimeout(d time.Duration) *Config {
	c.WriteTimeout = d
	return c
}

// WithReadLimit sets the read limit and returns the config for chaining.
func (c *Config) WithReadLimit(n int64) *Config {
	c.ReadLimit = n
	return c
}

// WebSocketDialer opens WebSocket transport connections.
type WebSocketDialer struct {
	config *Config
}

// NewWebSocketDialer creates a dialer with the given config. A nil config
// uses DefaultConfig.
func NewWebSocketDialer(config *Config) *WebSocketDialer {
	if config == nil {
		config = DefaultConfig()
	}
	return &WebSocketDialer{config: config}
}

// Dial opens a WebSocket connection to url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout:  d.config.HandshakeTimeout,
		ReadBufferSize:    d.config.ReadBufferSize,
		WriteBufferSize:   d.config.WriteBufferSize,
		EnableCompression: d.config.EnableCompression,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	conn.SetReadLimit(d.config.ReadLimit)

	return &wsConn{conn: conn, writeTimeout: d.config.WriteTimeout}, nil
}

// wsConn adapts a gorilla websocket connection to the Conn interface.
// Gorilla allows one concurrent reader and one concurrent writer; the write
// mutex serializes writers, the session's single receive loop is the reader.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	return data, nil
}

func (c *wsConn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
