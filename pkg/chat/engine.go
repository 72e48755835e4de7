package chat

import (
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tether-chat/tether/pkg/protocol"
	"github.com/tether-chat/tether/pkg/session"
)

const tracerName = "tether/chat"

// Engine owns the open conversation views of one authenticated session.
type Engine struct {
	config  *Config
	logger  *slog.Logger
	tracer  trace.Tracer
	api     API
	session Realtime
	cache   *snapshotCache

	mu   sync.Mutex
	open map[string]*Conversation

	stopResubscribe func()
}

// NewEngine creates an engine over the given collaborators.
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.Clone()
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.InitialWindow <= 0 {
		config.InitialWindow = 50
	}
	if config.TypingIdle <= 0 {
		config.TypingIdle = 3 * time.Second
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 10 * time.Second
	}

	e := &Engine{
		config:  config,
		logger:  config.Logger.With("component", "chat"),
		tracer:  otel.Tracer(tracerName),
		api:     config.API,
		session: config.Session,
		cache:   newSnapshotCache(config.CacheTTL),
		open:    make(map[string]*Conversation),
	}
	if e.session != nil {
		e.stopResubscribe = e.session.NotifyConnected(e.resubscribe)
	}
	return e
}

// resubscribe re-issues subscribe for every open conversation. Subscriptions
// are per-connection state on the server, so a fresh connection starts with
// none even though the local views and handlers survived.
func (e *Engine) resubscribe() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.session.Send(protocol.NewSubscribe(id)); err != nil {
			e.logger.Warn("resubscribe failed", "conversation_id", id, "error", err)
		}
	}
}

// Shutdown closes every open conversation and detaches the engine from the
// session. The engine must not be used afterwards.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.Close(id)
	}
	if e.stopResubscribe != nil {
		e.stopResubscribe()
	}
}

// Open returns the view for a conversation, creating it on first use. Opening
// registers the live event handlers for the conversation's scope and
// subscribes to its event stream.
func (e *Engine) Open(conversationID string) *Conversation {
	e.mu.Lock()
	if conv, ok := e.open[conversationID]; ok {
		e.mu.Unlock()
		return conv
	}
	conv := newConversation(e, conversationID)
	e.open[conversationID] = conv
	e.mu.Unlock()

	e.session.Register(conversationID, session.KindMessage, session.HandlerFunc(conv.onMessageEvent))
	e.session.Register(conversationID, session.KindTyping, session.HandlerFunc(conv.onTypingEvent))
	e.session.Register(conversationID, session.KindReadReceipt, session.HandlerFunc(conv.onReadEvent))

	if err := e.session.Send(protocol.NewSubscribe(conversationID)); err != nil {
		e.logger.Warn("subscribe failed", "conversation_id", conversationID, "error", err)
	}
	return conv
}

// Close tears down a conversation view: handlers unregistered, unsubscribe
// sent, typing stopped. The cached snapshot survives for the next Open.
func (e *Engine) Close(conversationID string) {
	e.mu.Lock()
	conv, ok := e.open[conversationID]
	delete(e.open, conversationID)
	e.mu.Unlock()
	if !ok {
		return
	}

	conv.StopTyping()
	e.session.Unregister(conversationID, session.KindMessage)
	e.session.Unregister(conversationID, session.KindTyping)
	e.session.Unregister(conversationID, session.KindReadReceipt)

	if err := e.session.Send(protocol.NewUnsubscribe(conversationID)); err != nil {
		e.logger.Debug("unsubscribe failed", "conversation_id", conversationID, "error", err)
	}
	conv.markClosed()
}

// WatchPresence registers a presence handler for one user. The returned
// function unregisters it.
func (e *Engine) WatchPresence(userID string, fn func(online bool, lastSeen *time.Time)) func() {
	e.session.Register(userID, session.KindPresence, session.HandlerFunc(func(env protocol.Inbound) {
		ev, ok := env.(*protocol.PresenceEvent)
		if !ok {
			return
		}
		fn(ev.Online(), ev.LastSeen)
	}))
	return func() { e.session.Unregister(userID, session.KindPresence) }
}

func (e *Engine) notifyChange(conversationID string) {
	if e.config.OnChange != nil {
		e.config.OnChange(conversationID)
	}
}
