package chat

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/tether-chat/tether/pkg/protocol"
	"github.com/tether-chat/tether/pkg/rest"
	"github.com/tether-chat/tether/pkg/session"
)

// API is the slice of the REST surface the reconciler calls. *rest.Client
// satisfies it.
type API interface {
	Messages(ctx context.Context, conversationID string, skip, limit int) ([]*rest.Message, bool, error)
	MessageByID(ctx context.Context, messageID string) (*rest.Message, error)
	UploadMedia(ctx context.Context, messageID, filename string, content io.Reader) (*protocol.Media, error)
}

// Realtime is the slice of the live session the reconciler drives.
// *session.Session satisfies it.
type Realtime interface {
	Send(env protocol.Outbound) error
	SendMessageAwait(ctx context.Context, msg *protocol.MessageSend, timeout time.Duration) (*protocol.MessageEvent, error)
	Register(scope string, kind session.Kind, h session.Handler)
	Unregister(scope string, kind session.Kind)
	NotifyConnected(fn func()) func()
	UserID() string
}

// Config configures an Engine. Use DefaultConfig and the With methods.
type Config struct {
	// API and Session are the two collaborators; both are required.
	API     API
	Session Realtime

	// Logger for reconciler internals. Defaults to slog.Default().
	Logger *slog.Logger

	// PageSize is the history fetch batch size.
	PageSize int

	// InitialWindow is how many messages an initial load aims for before it
	// stops paging.
	InitialWindow int

	// CacheTTL bounds how stale a served snapshot may be before a load goes
	// to the network instead.
	CacheTTL time.Duration

	// TypingIdle is the inactivity window after which an active typing
	// signal auto-stops.
	TypingIdle time.Duration

	// SendTimeout bounds the wait for the echo of a correlated send.
	SendTimeout time.Duration

	// OnChange fires after the view of a conversation changed. It runs on
	// whichever goroutine applied the change; keep it cheap and non-blocking.
	OnChange func(conversationID string)

	// OnTyping fires for typing signals from other participants.
	OnTyping func(conversationID, userID, userName string, started bool)
}

// DefaultConfig returns the documented defaults. API and Session must still
// be set.
func DefaultConfig() *Config {
	return &Config{
		PageSize:      100,
		InitialWindow: 50,
		CacheTTL:      10 * time.Second,
		TypingIdle:    3 * time.Second,
		SendTimeout:   10 * time.Second,
	}
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// WithAPI sets the REST collaborator.
func (c *Config) WithAPI(api API) *Config {
	c.API = api
	return c
}

// WithSession sets the live session collaborator.
func (c *Config) WithSession(s Realtime) *Config {
	c.Session = s
	return c
}

// WithLogger sets the logger.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

// WithOnChange sets the view-change callback.
func (c *Config) WithOnChange(fn func(conversationID string)) *Config {
	c.OnChange = fn
	return c
}

// WithOnTyping sets the typing callback.
func (c *Config) WithOnTyping(fn func(conversationID, userID, userName string, started bool)) *Config {
	c.OnTyping = fn
	return c
}
