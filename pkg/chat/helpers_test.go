package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tether-chat/tether/pkg/protocol"
	"github.com/tether-chat/tether/pkg/rest"
	"github.com/tether-chat/tether/pkg/session"
)

// fakeAPI serves history pages from an in-memory newest-first slice and
// records call counts.
type fakeAPI struct {
	mu            sync.Mutex
	store         []*rest.Message
	messagesCalls int
	byIDCalls     int
	uploads       []uploadRecord
	uploadErr     error
}

type uploadRecord struct {
	messageID string
	filename  string
}

func (a *fakeAPI) Messages(ctx context.Context, conversationID string, skip, limit int) ([]*rest.Message, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messagesCalls++

	if skip >= len(a.store) {
		return nil, false, nil
	}
	end := skip + limit
	if end > len(a.store) {
		end = len(a.store)
	}
	page := make([]*rest.Message, end-skip)
	copy(page, a.store[skip:end])
	return page, end < len(a.store), nil
}

func (a *fakeAPI) MessageByID(ctx context.Context, messageID string) (*rest.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byIDCalls++
	for _, m := range a.store {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, &rest.APIError{StatusCode: 404, Message: "message not found"}
}

func (a *fakeAPI) UploadMedia(ctx context.Context, messageID, filename string, content io.Reader) (*protocol.Media, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uploadErr != nil {
		return nil, a.uploadErr
	}
	a.uploads = append(a.uploads, uploadRecord{messageID: messageID, filename: filename})
	media := &protocol.Media{
		ID:   fmt.Sprintf("media-%d", len(a.uploads)),
		URL:  fmt.Sprintf("/media/media-%d", len(a.uploads)),
		Type: "application/octet-stream",
		Name: filename,
	}
	// Attach to the stored message so the reconciling fetch sees it.
	for _, m := range a.store {
		if m.ID == messageID {
			m.Media = append(m.Media, *media)
		}
	}
	return media, nil
}

// prepend inserts a message at the newest end.
func (a *fakeAPI) prepend(m *rest.Message) {
	a.mu.Lock()
	a.store = append([]*rest.Message{m}, a.store...)
	a.mu.Unlock()
}

func (a *fakeAPI) calls() (messages, byID, uploads int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messagesCalls, a.byIDCalls, len(a.uploads)
}

// fakeRealtime records outbound envelopes and resolves correlated sends with
// a canned echo.
type fakeRealtime struct {
	mu        sync.Mutex
	userID    string
	sent      []protocol.Outbound
	echoes    []*protocol.MessageEvent
	echoErr   error
	handlers  map[string]session.Handler
	listeners []func()
}

func newFakeRealtime(userID string) *fakeRealtime {
	return &fakeRealtime{
		userID:   userID,
		handlers: make(map[string]session.Handler),
	}
}

func (f *fakeRealtime) Send(env protocol.Outbound) error {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeRealtime) SendMessageAwait(ctx context.Context, msg *protocol.MessageSend, timeout time.Duration) (*protocol.MessageEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.echoErr != nil {
		return nil, f.echoErr
	}
	if len(f.echoes) == 0 {
		return nil, session.ErrSendUnconfirmed
	}
	echo := f.echoes[0]
	f.echoes = f.echoes[1:]
	return echo, nil
}

func (f *fakeRealtime) Register(scope string, kind session.Kind, h session.Handler) {
	f.mu.Lock()
	f.handlers[scope+"/"+kind.String()] = h
	f.mu.Unlock()
}

func (f *fakeRealtime) Unregister(scope string, kind session.Kind) {
	f.mu.Lock()
	delete(f.handlers, scope+"/"+kind.String())
	f.mu.Unlock()
}

func (f *fakeRealtime) NotifyConnected(fn func()) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listeners = nil
		f.mu.Unlock()
	}
}

// fireConnected simulates the session reaching Authenticated again.
func (f *fakeRealtime) fireConnected() {
	f.mu.Lock()
	listeners := append([]func(){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (f *fakeRealtime) UserID() string { return f.userID }

func (f *fakeRealtime) sentTypes() []protocol.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]protocol.Type, len(f.sent))
	for i, env := range f.sent {
		types[i] = env.OutboundType()
	}
	return types
}

func (f *fakeRealtime) countType(t protocol.Type) int {
	n := 0
	for _, ty := range f.sentTypes() {
		if ty == t {
			n++
		}
	}
	return n
}

func (f *fakeRealtime) handler(scope string, kind session.Kind) session.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[scope+"/"+kind.String()]
}

func restMsg(id, convID string, at time.Time) *rest.Message {
	return &rest.Message{
		ID:             id,
		ConversationID: convID,
		Content:        "msg " + id,
		SenderID:       "u2",
		SenderName:     "bo",
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func newTestEngine(api *fakeAPI, rt *fakeRealtime) *Engine {
	cfg := DefaultConfig().WithAPI(api).WithSession(rt)
	cfg.PageSize = 10
	cfg.InitialWindow = 5
	cfg.TypingIdle = 40 * time.Millisecond
	cfg.SendTimeout = 200 * time.Millisecond
	return NewEngine(cfg)
}
