package session

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/tether-chat/tether/pkg/protocol"
)

// Kind classifies inbound envelopes for routing purposes.
type Kind int

const (
	// KindMessage covers message, message_edit, message_delete and
	// message_forward events, scoped by conversation id.
	KindMessage Kind = iota

	// KindTyping covers typing_start and typing_stop, scoped by conversation id.
	KindTyping

	// KindPresence covers user_online and user_offline, scoped by user id.
	KindPresence

	// KindReadReceipt covers message_read and mark_read_success, scoped by
	// conversation id.
	KindReadReceipt
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindTyping:
		return "typing"
	case KindPresence:
		return "presence"
	case KindReadReceipt:
		return "read_receipt"
	default:
		return "unknown"
	}
}

// Handler receives routed inbound envelopes for one (scope, kind) pair.
type Handler interface {
	HandleEnvelope(env protocol.Inbound)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(env protocol.Inbound)

// HandleEnvelope calls f(env).
func (f HandlerFunc) HandleEnvelope(env protocol.Inbound) { f(env) }

type routeKey struct {
	scope string
	kind  Kind
}

// Router dispatches inbound envelopes to per-scope handlers. At most one
// handler is active per (scope, kind) pair; registering replaces any prior
// handler for the exact same key. Envelopes for unregistered scopes are
// dropped silently: a closed conversation view should not react.
type Router struct {
	dispatcher Dispatcher
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[routeKey]Handler
}

// NewRouter creates a Router delivering callbacks on the given dispatcher.
func NewRouter(dispatcher Dispatcher, logger *slog.Logger) *Router {
	return &Router{
		dispatcher: dispatcher,
		logger:     logger,
		handlers:   make(map[routeKey]Handler),
	}
}

// Register installs h for the (scope, kind) pair, replacing any prior handler.
func (r *Router) Register(scope string, kind Kind, h Handler) {
	r.mu.Lock()
	r.handlers[routeKey{scope, kind}] = h
	r.mu.Unlock()
}

// Unregister removes the handler for the (scope, kind) pair. It is a no-op if
// none is registered.
func (r *Router) Unregister(scope string, kind Kind) {
	r.mu.Lock()
	delete(r.handlers, routeKey{scope, kind})
	r.mu.Unlock()
}

// Clear removes every registration. Called on manual disconnect so that no
// stale callback survives an account switch.
func (r *Router) Clear() {
	r.mu.Lock()
	r.handlers = make(map[routeKey]Handler)
	r.mu.Unlock()
}

// dispatch routes one envelope. Invocation is posted to the dispatcher so the
// receive loop never blocks on handler completion.
func (r *Router) dispatch(env protocol.Inbound) {
	scope, kind, ok := routeOf(env)
	if !ok {
		r.logger.Debug("unroutable envelope dropped", "type", env.InboundType())
		return
	}

	r.mu.RLock()
	h := r.handlers[routeKey{scope, kind}]
	r.mu.RUnlock()
	if h == nil {
		r.logger.Debug("no handler for scope", "type", env.InboundType(), "scope", scope, "kind", kind)
		return
	}

	r.dispatcher.Dispatch(func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("handler panic",
					"type", env.InboundType(),
					"scope", scope,
					"panic", rec,
					"stack", string(debug.Stack()))
			}
		}()
		h.HandleEnvelope(env)
	})
}

// routeOf extracts the scope key and kind of an envelope: conversation id for
// message, typing and read events; user id for presence events.
func routeOf(env protocol.Inbound) (string, Kind, bool) {
	switch ev := env.(type) {
	case *protocol.MessageEvent:
		return ev.ConversationID, KindMessage, true
	case *protocol.MessageEdited:
		return ev.ConversationID, KindMessage, true
	case *protocol.MessageDeleted:
		return ev.ConversationID, KindMessage, true
	case *protocol.MessageForwarded:
		return ev.ConversationID, KindMessage, true
	case *protocol.TypingEvent:
		return ev.ConversationID, KindTyping, true
	case *protocol.MarkReadSuccess:
		return ev.ConversationID, KindReadReceipt, true
	case *protocol.MessageRead:
		return ev.ConversationID, KindReadReceipt, true
	case *protocol.PresenceEvent:
		return ev.UserID, KindPresence, true
	default:
		return "", 0, false
	}
}
