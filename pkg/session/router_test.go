package session

import (
	"log/slog"
	"testing"
	"time"

	"github.com/tether-chat/tether/pkg/protocol"
)

func newTestRouter() *Router {
	return NewRouter(Synchronous, slog.Default())
}

func msgEvent(conv, id string) *protocol.MessageEvent {
	return &protocol.MessageEvent{
		Meta:           protocol.Meta{Type: protocol.TypeMessage, Sequence: 1},
		ID:             id,
		ConversationID: conv,
	}
}

func TestRouterDispatchesToExactScope(t *testing.T) {
	r := newTestRouter()

	var got []string
	r.Register("c1", KindMessage, HandlerFunc(func(env protocol.Inbound) {
		got = append(got, env.(*protocol.MessageEvent).ID)
	}))

	r.dispatch(msgEvent("c1", "m1"))
	r.dispatch(msgEvent("c2", "m2")) // other scope, dropped
	r.dispatch(msgEvent("c1", "m3"))

	if len(got) != 2 || got[0] != "m1" || got[1] != "m3" {
		t.Errorf("delivered = %v, want [m1 m3]", got)
	}
}

func TestRouterRegisterReplaces(t *testing.T) {
	r := newTestRouter()

	first, second := 0, 0
	r.Register("c1", KindMessage, HandlerFunc(func(protocol.Inbound) { first++ }))
	r.Register("c1", KindMessage, HandlerFunc(func(protocol.Inbound) { second++ }))

	r.dispatch(msgEvent("c1", "m1"))

	if first != 0 || second != 1 {
		t.Errorf("first = %d, second = %d; replacement not exclusive", first, second)
	}
}

func TestRouterUnregisterIsIdempotent(t *testing.T) {
	r := newTestRouter()

	calls := 0
	r.Register("c1", KindMessage, HandlerFunc(func(protocol.Inbound) { calls++ }))
	r.Unregister("c1", KindMessage)
	r.Unregister("c1", KindMessage)

	r.dispatch(msgEvent("c1", "m1"))
	if calls != 0 {
		t.Errorf("calls = %d after unregister, want 0", calls)
	}
}

func TestRouterScopeKinds(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		env       protocol.Inbound
		wantScope string
		wantKind  Kind
	}{
		{
			name:      "message by conversation",
			env:       msgEvent("c1", "m1"),
			wantScope: "c1",
			wantKind:  KindMessage,
		},
		{
			name: "edit by conversation",
			env: &protocol.MessageEdited{
				Meta:           protocol.Meta{Type: protocol.TypeMessageEdit},
				MessageID:      "m1",
				ConversationID: "c1",
				UpdatedAt:      now,
			},
			wantScope: "c1",
			wantKind:  KindMessage,
		},
		{
			name: "typing by conversation",
			env: &protocol.TypingEvent{
				Meta:           protocol.Meta{Type: protocol.TypeTypingStart},
				UserID:         "u2",
				ConversationID: "c1",
			},
			wantScope: "c1",
			wantKind:  KindTyping,
		},
		{
			name: "read receipt by conversation",
			env: &protocol.MessageRead{
				Meta:           protocol.Meta{Type: protocol.TypeMessageRead},
				MessageID:      "m1",
				ConversationID: "c1",
				ReaderID:       "u2",
			},
			wantScope: "c1",
			wantKind:  KindReadReceipt,
		},
		{
			name: "presence by user",
			env: &protocol.PresenceEvent{
				Meta:   protocol.Meta{Type: protocol.TypeUserOnline},
				UserID: "u2",
			},
			wantScope: "u2",
			wantKind:  KindPresence,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scope, kind, ok := routeOf(tc.env)
			if !ok {
				t.Fatal("routeOf() ok = false")
			}
			if scope != tc.wantScope || kind != tc.wantKind {
				t.Errorf("routeOf() = (%q, %v), want (%q, %v)", scope, kind, tc.wantScope, tc.wantKind)
			}
		})
	}
}

func TestRouterUnroutableDropped(t *testing.T) {
	r := newTestRouter()
	// message_ack has no conversation scope in the wire contract; it must be
	// dropped rather than crash.
	r.dispatch(&protocol.MessageAck{Meta: protocol.Meta{Type: protocol.TypeMessageAck}, MessageID: "m1"})
}

func TestRouterRecoversHandlerPanic(t *testing.T) {
	r := newTestRouter()
	r.Register("c1", KindMessage, HandlerFunc(func(protocol.Inbound) { panic("boom") }))
	r.dispatch(msgEvent("c1", "m1")) // must not panic through
}

func TestRouterClear(t *testing.T) {
	r := newTestRouter()
	calls := 0
	r.Register("c1", KindMessage, HandlerFunc(func(protocol.Inbound) { calls++ }))
	r.Register("u2", KindPresence, HandlerFunc(func(protocol.Inbound) { calls++ }))
	r.Clear()

	r.dispatch(msgEvent("c1", "m1"))
	r.dispatch(&protocol.PresenceEvent{Meta: protocol.Meta{Type: protocol.TypeUserOnline}, UserID: "u2"})
	if calls != 0 {
		t.Errorf("calls = %d after Clear, want 0", calls)
	}
}
