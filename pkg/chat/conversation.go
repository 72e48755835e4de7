package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tether-chat/tether/pkg/protocol"
)

// ErrLoadInProgress is returned by LoadOlder while a previous backward page
// load is still running.
var ErrLoadInProgress = errors.New("chat: backward load already in progress")

// ErrClosed is returned for operations on a conversation after Close.
var ErrClosed = errors.New("chat: conversation closed")

// Conversation is the reconciled view of one conversation. All methods are
// safe for concurrent use.
type Conversation struct {
	engine *Engine
	id     string

	mu             sync.Mutex
	messages       []*Message
	byID           map[string]*Message
	oldestLoadedID string
	hasMore        bool
	loaded         bool
	loadingOlder   bool
	closed         bool
	arrival        uint64

	typing typingState
}

func newConversation(e *Engine, id string) *Conversation {
	return &Conversation{
		engine: e,
		id:     id,
		byID:   make(map[string]*Message),
	}
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Messages returns a snapshot of the current view, ascending by creation
// time.
func (c *Conversation) Messages() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// HasMore reports whether older history exists beyond the loaded window.
func (c *Conversation) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

func (c *Conversation) snapshotLocked() []*Message {
	out := make([]*Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.clone()
	}
	return out
}

// LoadMessages returns the conversation's message window. A fresh cached
// snapshot is served immediately, with a background check against the server's
// newest message id; a mismatch forces a reload and fires the change
// callback. Without a fresh snapshot the load pages backward from the newest
// message until the initial window is filled or history is exhausted.
func (c *Conversation) LoadMessages(ctx context.Context) ([]*Message, error) {
	ctx, span := c.engine.tracer.Start(ctx, "chat.load_messages",
		trace.WithAttributes(attribute.String("conversation_id", c.id)))
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.loaded {
		view := c.snapshotLocked()
		c.mu.Unlock()
		span.SetAttributes(attribute.Bool("from_view", true))
		return view, nil
	}
	c.mu.Unlock()

	if entry, fresh := c.engine.cache.get(c.id); fresh {
		c.adoptSnapshot(entry)
		go c.freshnessCheck(context.WithoutCancel(ctx), entry.newestID)
		span.SetAttributes(attribute.Bool("from_cache", true))
		return c.Messages(), nil
	}

	if err := c.reload(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initial load failed")
		return nil, err
	}
	return c.Messages(), nil
}

// adoptSnapshot installs a cached view as the live one. Live events that
// raced the adoption win: ids already present are kept over their cached
// copies.
func (c *Conversation) adoptSnapshot(entry *snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded || c.closed {
		return
	}
	for _, m := range entry.messages {
		if _, ok := c.byID[m.ID]; ok {
			continue
		}
		cp := m.clone()
		c.arrival++
		cp.arrival = c.arrival
		c.messages = append(c.messages, cp)
		c.byID[cp.ID] = cp
	}
	sortMessages(c.messages)
	c.oldestLoadedID = entry.oldestLoadedID
	c.hasMore = entry.hasMore
	c.loaded = true
}

// freshnessCheck asks the server for its newest message id and forces a
// reload when it disagrees with the snapshot that was just served.
func (c *Conversation) freshnessCheck(ctx context.Context, cachedNewestID string) {
	page, _, err := c.engine.api.Messages(ctx, c.id, 0, 1)
	if err != nil {
		c.engine.logger.Debug("freshness check failed", "conversation_id", c.id, "error", err)
		return
	}
	var newestID string
	if len(page) > 0 {
		newestID = page[0].ID
	}
	if newestID == cachedNewestID {
		return
	}

	c.engine.logger.Info("cached view stale, reloading",
		"conversation_id", c.id,
		"cached_newest", cachedNewestID,
		"server_newest", newestID)
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
	if err := c.reload(ctx); err != nil {
		c.engine.logger.Warn("stale reload failed", "conversation_id", c.id, "error", err)
		return
	}
	c.engine.notifyChange(c.id)
}

// reload pages backward from the newest message and replaces the history
// portion of the view. Live-merged messages the pages did not cover survive.
func (c *Conversation) reload(ctx context.Context) error {
	var (
		fetched []*Message
		hasMore bool
		skip    int
	)
	for {
		page, more, err := c.engine.api.Messages(ctx, c.id, skip, c.engine.config.PageSize)
		if err != nil {
			return fmt.Errorf("chat: load %s: %w", c.id, err)
		}
		for _, m := range page {
			fetched = append(fetched, fromREST(m))
		}
		hasMore = more
		skip += len(page)
		if !more || len(fetched) >= c.engine.config.InitialWindow || len(page) == 0 {
			break
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	for _, m := range fetched {
		c.upsertLocked(m)
	}
	// fetched is newest-first; the last element is the oldest covered.
	if n := len(fetched); n > 0 {
		c.oldestLoadedID = fetched[n-1].ID
	}
	c.hasMore = hasMore
	c.loaded = true
	view := c.snapshotLocked()
	oldest, more := c.oldestLoadedID, c.hasMore
	c.mu.Unlock()

	c.engine.cache.put(c.id, view, oldest, more)
	return nil
}

// LoadOlder extends the window backward by one page. Pages are refetched from
// the newest end until the current oldest loaded id is found, so a window
// shifted by messages that arrived meanwhile still anchors correctly; the
// merge by id uniqueness makes the overlap harmless. Only one backward load
// runs at a time.
func (c *Conversation) LoadOlder(ctx context.Context) error {
	ctx, span := c.engine.tracer.Start(ctx, "chat.load_older",
		trace.WithAttributes(attribute.String("conversation_id", c.id)))
	defer span.End()

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case !c.hasMore:
		c.mu.Unlock()
		return nil
	case c.loadingOlder:
		c.mu.Unlock()
		return ErrLoadInProgress
	}
	c.loadingOlder = true
	anchor := c.oldestLoadedID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loadingOlder = false
		c.mu.Unlock()
	}()

	var (
		fetched     []*Message
		hasMore     bool
		skip        int
		foundAnchor bool
	)
	for {
		page, more, err := c.engine.api.Messages(ctx, c.id, skip, c.engine.config.PageSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "page fetch failed")
			return fmt.Errorf("chat: load older %s: %w", c.id, err)
		}
		for _, m := range page {
			fetched = append(fetched, fromREST(m))
			if m.ID == anchor {
				foundAnchor = true
			}
		}
		hasMore = more
		skip += len(page)
		if len(page) == 0 || !more {
			break
		}
		if foundAnchor && fetched[len(fetched)-1].ID != anchor {
			// The page past the anchor is in; that is the new history.
			break
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	for _, m := range fetched {
		c.upsertLocked(m)
	}
	if n := len(fetched); n > 0 {
		c.oldestLoadedID = fetched[n-1].ID
	}
	c.hasMore = hasMore
	view := c.snapshotLocked()
	oldest, more := c.oldestLoadedID, c.hasMore
	c.mu.Unlock()

	c.engine.cache.put(c.id, view, oldest, more)
	c.engine.notifyChange(c.id)
	return nil
}

// upsertLocked merges one message into the view by id. New ids insert in
// order; known ids replace their entry only when the incoming copy is
// strictly more informative.
func (c *Conversation) upsertLocked(m *Message) bool {
	if existing, ok := c.byID[m.ID]; ok {
		if !moreInformative(m, existing) {
			return false
		}
		m.arrival = existing.arrival
		m.ReadBy = existing.ReadBy
		*existing = *m
		return true
	}
	c.arrival++
	m.arrival = c.arrival
	c.messages = append(c.messages, m)
	c.byID[m.ID] = m
	sortMessages(c.messages)
	return true
}

func (c *Conversation) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// onMessageEvent handles the message family of live events for this
// conversation's scope.
func (c *Conversation) onMessageEvent(env protocol.Inbound) {
	changed := false

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	switch ev := env.(type) {
	case *protocol.MessageEvent:
		changed = c.upsertLocked(fromEvent(ev))
	case *protocol.MessageForwarded:
		changed = c.upsertLocked(fromForward(ev))
	case *protocol.MessageEdited:
		if existing, ok := c.byID[ev.MessageID]; ok {
			existing.Content = ev.Content
			existing.UpdatedAt = ev.UpdatedAt
			existing.IsEdited = true
			changed = true
		}
	case *protocol.MessageDeleted:
		if existing, ok := c.byID[ev.MessageID]; ok && !existing.IsDeleted {
			existing.IsDeleted = true
			existing.Content = ""
			changed = true
		}
	}
	var view []*Message
	var oldest string
	var more bool
	if changed {
		view = c.snapshotLocked()
		oldest, more = c.oldestLoadedID, c.hasMore
	}
	loaded := c.loaded
	c.mu.Unlock()

	if changed {
		if loaded {
			c.engine.cache.put(c.id, view, oldest, more)
		}
		c.engine.notifyChange(c.id)
	}
}

func (c *Conversation) onTypingEvent(env protocol.Inbound) {
	ev, ok := env.(*protocol.TypingEvent)
	if !ok {
		return
	}
	if ev.UserID == c.engine.session.UserID() {
		return
	}
	if fn := c.engine.config.OnTyping; fn != nil {
		fn(c.id, ev.UserID, ev.UserName, ev.Started())
	}
}

func (c *Conversation) onReadEvent(env protocol.Inbound) {
	ev, ok := env.(*protocol.MessageRead)
	if !ok {
		return
	}

	changed := false
	c.mu.Lock()
	if existing, found := c.byID[ev.MessageID]; found {
		already := false
		for _, r := range existing.ReadBy {
			if r == ev.ReaderID {
				already = true
				break
			}
		}
		if !already {
			existing.ReadBy = append(existing.ReadBy, ev.ReaderID)
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		c.engine.notifyChange(c.id)
	}
}

// MarkRead reports the local user's read position. Fire-and-forget; the
// server answers with mark_read_success and fans message_read out to the
// other participants.
func (c *Conversation) MarkRead(messageID string) error {
	return c.engine.session.Send(protocol.NewMarkRead(messageID, c.id))
}

// Edit replaces a message's content. The view updates when the
// message_edit event comes back.
func (c *Conversation) Edit(messageID, content string) error {
	return c.engine.session.Send(protocol.NewMessageEdit(messageID, content))
}

// Delete removes a message. The view updates when the message_delete event
// comes back.
func (c *Conversation) Delete(messageID string) error {
	return c.engine.session.Send(protocol.NewMessageDelete(messageID))
}

// Forward copies a message into another conversation.
func (c *Conversation) Forward(messageID, targetConversationID string) error {
	return c.engine.session.Send(protocol.NewMessageForward(messageID, targetConversationID))
}
