package chat

import (
	"sort"
	"time"

	"github.com/tether-chat/tether/pkg/protocol"
	"github.com/tether-chat/tether/pkg/rest"
)

// Message is one entry in a conversation view. It is a value snapshot; the
// reconciler hands out copies, never its internal pointers.
type Message struct {
	ID             string
	ConversationID string
	Content        string
	SenderID       string
	SenderName     string
	Media          []protocol.Media
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IsEdited       bool
	IsDeleted      bool
	ReadBy         []string

	// arrival breaks ordering ties between messages with equal timestamps.
	// Assigned once, when the id first enters the view.
	arrival uint64
}

func fromREST(m *rest.Message) *Message {
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Media:          m.Media,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
	}
}

func fromEvent(ev *protocol.MessageEvent) *Message {
	return &Message{
		ID:             ev.ID,
		ConversationID: ev.ConversationID,
		Content:        ev.Content,
		SenderID:       ev.SenderID,
		SenderName:     ev.SenderName,
		Media:          ev.Media,
		CreatedAt:      ev.CreatedAt,
		UpdatedAt:      ev.UpdatedAt,
		IsEdited:       ev.IsEdited,
		IsDeleted:      ev.IsDeleted,
	}
}

func fromForward(ev *protocol.MessageForwarded) *Message {
	return &Message{
		ID:             ev.ID,
		ConversationID: ev.ConversationID,
		Content:        ev.Content,
		SenderID:       ev.SenderID,
		SenderName:     ev.SenderName,
		Media:          ev.Media,
		CreatedAt:      ev.CreatedAt,
	}
}

// before orders messages ascending by creation time, arrival order on ties.
func (m *Message) before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.arrival < other.arrival
}

// moreInformative reports whether incoming carries strictly more information
// about the same message than existing: more media resolved, an edit or
// delete the existing copy lacks, or a later server update time. A copy that
// drops information never wins.
func moreInformative(incoming, existing *Message) bool {
	if len(incoming.Media) < len(existing.Media) {
		return false
	}
	if incoming.IsEdited && !existing.IsEdited {
		return true
	}
	if incoming.IsDeleted && !existing.IsDeleted {
		return true
	}
	if len(incoming.Media) > len(existing.Media) {
		return true
	}
	return incoming.UpdatedAt.After(existing.UpdatedAt)
}

// clone returns a deep-enough copy for handing outside the lock.
func (m *Message) clone() *Message {
	out := *m
	out.Media = append([]protocol.Media(nil), m.Media...)
	out.ReadBy = append([]string(nil), m.ReadBy...)
	return &out
}

func sortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].before(msgs[j])
	})
}
