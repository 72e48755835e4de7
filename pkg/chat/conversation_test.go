package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tether-chat/tether/pkg/protocol"
	"github.com/tether-chat/tether/pkg/rest"
	"github.com/tether-chat/tether/pkg/session"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// seedStore fills the fake API with n messages, m-1 oldest, m-n newest.
func seedStore(api *fakeAPI, convID string, n int) {
	for i := n; i >= 1; i-- {
		api.store = append(api.store, restMsg(fmt.Sprintf("m-%d", i), convID, t0.Add(time.Duration(i)*time.Minute)))
	}
}

func assertAscending(t *testing.T, msgs []*Message) {
	t.Helper()
	seen := make(map[string]bool)
	for i, m := range msgs {
		if seen[m.ID] {
			t.Fatalf("duplicate id %s in view", m.ID)
		}
		seen[m.ID] = true
		if i > 0 && msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("view not ascending at %d: %s before %s", i, msgs[i].ID, msgs[i-1].ID)
		}
	}
}

func TestOpenSubscribesAndCloseUnsubscribes(t *testing.T) {
	api := &fakeAPI{}
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)

	conv := e.Open("c1")
	if conv == nil {
		t.Fatal("Open returned nil")
	}
	if rt.countType(protocol.TypeSubscribe) != 1 {
		t.Errorf("subscribe frames = %d, want 1", rt.countType(protocol.TypeSubscribe))
	}
	if rt.handler("c1", session.KindMessage) == nil {
		t.Error("message handler not registered")
	}

	// Reopening returns the same view, no second subscribe.
	if again := e.Open("c1"); again != conv {
		t.Error("second Open returned a different view")
	}
	if rt.countType(protocol.TypeSubscribe) != 1 {
		t.Errorf("subscribe frames after reopen = %d, want 1", rt.countType(protocol.TypeSubscribe))
	}

	e.Close("c1")
	if rt.countType(protocol.TypeUnsubscribe) != 1 {
		t.Errorf("unsubscribe frames = %d, want 1", rt.countType(protocol.TypeUnsubscribe))
	}
	if rt.handler("c1", session.KindMessage) != nil {
		t.Error("message handler still registered after Close")
	}
	if _, err := conv.LoadMessages(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("LoadMessages after Close = %v, want ErrClosed", err)
	}
}

func TestInitialLoadFillsWindow(t *testing.T) {
	api := &fakeAPI{}
	seedStore(api, "c1", 23)
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt) // PageSize 10, InitialWindow 5

	conv := e.Open("c1")
	msgs, err := conv.LoadMessages(context.Background())
	if err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}

	// One page of 10 covers the window of 5.
	if len(msgs) != 10 {
		t.Fatalf("loaded %d messages, want 10", len(msgs))
	}
	assertAscending(t, msgs)
	if msgs[len(msgs)-1].ID != "m-23" {
		t.Errorf("newest = %s, want m-23", msgs[len(msgs)-1].ID)
	}
	if msgs[0].ID != "m-14" {
		t.Errorf("oldest = %s, want m-14", msgs[0].ID)
	}
	if !conv.HasMore() {
		t.Error("HasMore() = false with 13 older messages on the server")
	}
}

func TestLoadOlderMergesByID(t *testing.T) {
	api := &fakeAPI{}
	seedStore(api, "c1", 23)
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)

	conv := e.Open("c1")
	if _, err := conv.LoadMessages(context.Background()); err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}

	// A new message arrives before the backward load, shifting every skip
	// offset by one. The anchor search absorbs the shift.
	api.prepend(restMsg("m-24", "c1", t0.Add(24*time.Minute)))

	if err := conv.LoadOlder(context.Background()); err != nil {
		t.Fatalf("LoadOlder() error = %v", err)
	}

	msgs := conv.Messages()
	assertAscending(t, msgs)
	if msgs[0].ID != "m-5" {
		t.Errorf("oldest after LoadOlder = %s, want m-5", msgs[0].ID)
	}
	if !conv.HasMore() {
		t.Error("HasMore() = false with m-1..m-4 still on the server")
	}

	if err := conv.LoadOlder(context.Background()); err != nil {
		t.Fatalf("second LoadOlder() error = %v", err)
	}
	msgs = conv.Messages()
	if msgs[0].ID != "m-1" {
		t.Errorf("oldest after second LoadOlder = %s, want m-1", msgs[0].ID)
	}
	if conv.HasMore() {
		t.Error("HasMore() = true after history exhausted")
	}
}

func TestLoadOlderSerialized(t *testing.T) {
	api := &fakeAPI{}
	seedStore(api, "c1", 23)
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)

	conv := e.Open("c1")
	if _, err := conv.LoadMessages(context.Background()); err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}

	conv.mu.Lock()
	conv.loadingOlder = true
	conv.mu.Unlock()

	if err := conv.LoadOlder(context.Background()); !errors.Is(err, ErrLoadInProgress) {
		t.Errorf("concurrent LoadOlder() = %v, want ErrLoadInProgress", err)
	}
}

func TestLivePushKeepsViewSortedUnique(t *testing.T) {
	api := &fakeAPI{}
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)
	conv := e.Open("c1")
	handler := rt.handler("c1", session.KindMessage)

	// Out-of-order timestamps, one duplicate id, one timestamp tie.
	pushes := []*protocol.MessageEvent{
		{Meta: protocol.Meta{Type: protocol.TypeMessage}, ID: "a", ConversationID: "c1", SenderID: "u2", CreatedAt: t0.Add(3 * time.Minute)},
		{Meta: protocol.Meta{Type: protocol.TypeMessage}, ID: "b", ConversationID: "c1", SenderID: "u2", CreatedAt: t0.Add(time.Minute)},
		{Meta: protocol.Meta{Type: protocol.TypeMessage}, ID: "a", ConversationID: "c1", SenderID: "u2", CreatedAt: t0.Add(3 * time.Minute)},
		{Meta: protocol.Meta{Type: protocol.TypeMessage}, ID: "c", ConversationID: "c1", SenderID: "u2", CreatedAt: t0.Add(time.Minute)},
	}
	for _, ev := range pushes {
		handler.HandleEnvelope(ev)
	}

	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("view has %d messages, want 3", len(msgs))
	}
	assertAscending(t, msgs)
	// b and c tie on timestamp; arrival order breaks the tie.
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("order = [%s %s %s], want %v", msgs[0].ID, msgs[1].ID, msgs[2].ID, want)
		}
	}
}

func TestEditAndDeleteEventsApply(t *testing.T) {
	api := &fakeAPI{}
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)
	conv := e.Open("c1")
	handler := rt.handler("c1", session.KindMessage)

	handler.HandleEnvelope(&protocol.MessageEvent{
		Meta: protocol.Meta{Type: protocol.TypeMessage},
		ID:   "m1", ConversationID: "c1", SenderID: "u2", Content: "first", CreatedAt: t0,
	})
	handler.HandleEnvelope(&protocol.MessageEdited{
		Meta:      protocol.Meta{Type: protocol.TypeMessageEdit},
		MessageID: "m1", ConversationID: "c1", Content: "first, edited", UpdatedAt: t0.Add(time.Second),
	})

	msgs := conv.Messages()
	if msgs[0].Content != "first, edited" || !msgs[0].IsEdited {
		t.Errorf("after edit: content %q edited %v", msgs[0].Content, msgs[0].IsEdited)
	}

	handler.HandleEnvelope(&protocol.MessageDeleted{
		Meta:      protocol.Meta{Type: protocol.TypeMessageDelete},
		MessageID: "m1", ConversationID: "c1",
	})
	msgs = conv.Messages()
	if !msgs[0].IsDeleted || msgs[0].Content != "" {
		t.Errorf("after delete: deleted %v content %q", msgs[0].IsDeleted, msgs[0].Content)
	}

	// A stale pre-edit copy arriving late must not resurrect the content.
	handler.HandleEnvelope(&protocol.MessageEvent{
		Meta: protocol.Meta{Type: protocol.TypeMessage},
		ID:   "m1", ConversationID: "c1", SenderID: "u2", Content: "first", CreatedAt: t0,
	})
	msgs = conv.Messages()
	if !msgs[0].IsDeleted {
		t.Error("stale copy regressed the deleted flag")
	}
}

func TestCachedLoadChecksFreshness(t *testing.T) {
	api := &fakeAPI{}
	seedStore(api, "c1", 8)
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)

	changed := make(chan string, 4)
	e.config.OnChange = func(id string) { changed <- id }

	conv := e.Open("c1")
	if _, err := conv.LoadMessages(context.Background()); err != nil {
		t.Fatalf("first LoadMessages() error = %v", err)
	}
	loadsBefore, _, _ := api.calls()
	e.Close("c1")

	// The server moved on while the view was closed.
	api.prepend(restMsg("m-9", "c1", t0.Add(9*time.Minute)))

	conv = e.Open("c1")
	msgs, err := conv.LoadMessages(context.Background())
	if err != nil {
		t.Fatalf("cached LoadMessages() error = %v", err)
	}
	// Served from cache: the stale view, no synchronous fetch.
	if msgs[len(msgs)-1].ID != "m-8" {
		t.Errorf("cached newest = %s, want m-8", msgs[len(msgs)-1].ID)
	}

	// The background check notices m-9 and reloads.
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("freshness check did not trigger a reload")
	}
	msgs = conv.Messages()
	if msgs[len(msgs)-1].ID != "m-9" {
		t.Errorf("newest after reload = %s, want m-9", msgs[len(msgs)-1].ID)
	}
	loadsAfter, _, _ := api.calls()
	if loadsAfter <= loadsBefore {
		t.Error("freshness check made no server calls")
	}
}

func TestFreshCacheMatchSkipsReload(t *testing.T) {
	api := &fakeAPI{}
	seedStore(api, "c1", 3)
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)

	var mu sync.Mutex
	changes := 0
	e.config.OnChange = func(string) {
		mu.Lock()
		changes++
		mu.Unlock()
	}

	conv := e.Open("c1")
	if _, err := conv.LoadMessages(context.Background()); err != nil {
		t.Fatalf("first LoadMessages() error = %v", err)
	}
	e.Close("c1")

	conv = e.Open("c1")
	if _, err := conv.LoadMessages(context.Background()); err != nil {
		t.Fatalf("cached LoadMessages() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if changes != 0 {
		t.Errorf("changes = %d after matching freshness check, want 0", changes)
	}
}

func TestReadReceiptsAccumulate(t *testing.T) {
	api := &fakeAPI{}
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)
	conv := e.Open("c1")

	rt.handler("c1", session.KindMessage).HandleEnvelope(&protocol.MessageEvent{
		Meta: protocol.Meta{Type: protocol.TypeMessage},
		ID:   "m1", ConversationID: "c1", SenderID: "u1", CreatedAt: t0,
	})

	read := rt.handler("c1", session.KindReadReceipt)
	read.HandleEnvelope(&protocol.MessageRead{
		Meta:      protocol.Meta{Type: protocol.TypeMessageRead},
		MessageID: "m1", ConversationID: "c1", ReaderID: "u2",
	})
	read.HandleEnvelope(&protocol.MessageRead{
		Meta:      protocol.Meta{Type: protocol.TypeMessageRead},
		MessageID: "m1", ConversationID: "c1", ReaderID: "u2",
	})

	msgs := conv.Messages()
	if len(msgs[0].ReadBy) != 1 || msgs[0].ReadBy[0] != "u2" {
		t.Errorf("ReadBy = %v, want [u2]", msgs[0].ReadBy)
	}

	if err := conv.MarkRead("m1"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if rt.countType(protocol.TypeMarkRead) != 1 {
		t.Errorf("mark_read frames = %d, want 1", rt.countType(protocol.TypeMarkRead))
	}
}

func TestWatchPresence(t *testing.T) {
	api := &fakeAPI{}
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)

	got := make(chan bool, 2)
	stop := e.WatchPresence("u2", func(online bool, lastSeen *time.Time) { got <- online })

	rt.handler("u2", session.KindPresence).HandleEnvelope(&protocol.PresenceEvent{
		Meta: protocol.Meta{Type: protocol.TypeUserOnline}, UserID: "u2",
	})
	if online := <-got; !online {
		t.Error("online = false for user_online")
	}

	stop()
	if rt.handler("u2", session.KindPresence) != nil {
		t.Error("presence handler still registered after stop")
	}
}

// restMessagesFromView ensures stale REST pages never regress live edits.
func TestHistoryPageNeverRegressesLiveEdit(t *testing.T) {
	api := &fakeAPI{}
	seedStore(api, "c1", 3)
	rt := newFakeRealtime("u1")
	e := newTestEngine(api, rt)
	conv := e.Open("c1")
	handler := rt.handler("c1", session.KindMessage)

	// Live edit lands before the initial history load.
	handler.HandleEnvelope(&protocol.MessageEvent{
		Meta: protocol.Meta{Type: protocol.TypeMessage},
		ID:   "m-2", ConversationID: "c1", SenderID: "u2",
		Content: "live, edited", IsEdited: true,
		CreatedAt: t0.Add(2 * time.Minute), UpdatedAt: t0.Add(10 * time.Minute),
	})

	if _, err := conv.LoadMessages(context.Background()); err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}

	var m2 *rest.Message
	for _, m := range api.store {
		if m.ID == "m-2" {
			m2 = m
		}
	}
	_ = m2

	for _, m := range conv.Messages() {
		if m.ID == "m-2" && m.Content != "live, edited" {
			t.Errorf("history page regressed m-2 to %q", m.Content)
		}
	}
}
