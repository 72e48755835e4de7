package devserver

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tether-chat/tether/pkg/protocol"
	"github.com/tether-chat/tether/pkg/rest"
)

// ErrNotFound is returned for lookups of unknown entities.
var ErrNotFound = errors.New("devserver: not found")

// Store is the in-memory state of the dev server: users, conversations and
// messages. Everything is lost on restart, which is the point.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*rest.User
	usersByName   map[string]string
	conversations map[string]*rest.Conversation
	messages      map[string][]*rest.Message // conversation id -> ascending by creation
	byMessageID   map[string]*rest.Message
	now           func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:         make(map[string]*rest.User),
		usersByName:   make(map[string]string),
		conversations: make(map[string]*rest.Conversation),
		messages:      make(map[string][]*rest.Message),
		byMessageID:   make(map[string]*rest.Message),
		now:           time.Now,
	}
}

// UpsertUser returns the user with the given name, creating the account on
// first sight.
func (s *Store) UpsertUser(name string) *rest.User {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.usersByName[name]; ok {
		return cloneUser(s.users[id])
	}
	user := &rest.User{ID: uuid.NewString(), Name: name}
	s.users[user.ID] = user
	s.usersByName[name] = user.ID
	return cloneUser(user)
}

// User looks a user up by id.
func (s *Store) User(id string) (*rest.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(user), nil
}

// SetOnline updates a user's presence. Going offline stamps LastSeen.
func (s *Store) SetOnline(id string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return
	}
	user.Online = online
	if !online {
		at := s.now().UTC()
		user.LastSeen = &at
	}
}

// CreateConversation opens a conversation. The creator is always a
// participant.
func (s *Store) CreateConversation(creatorID, name string, participantIDs []string) *rest.Conversation {
	ids := append([]string{creatorID}, participantIDs...)
	seen := make(map[string]bool, len(ids))
	unique := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	conv := &rest.Conversation{
		ID:             uuid.NewString(),
		Name:           name,
		ParticipantIDs: unique,
		CreatedAt:      s.now().UTC(),
	}
	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()
	return cloneConversation(conv)
}

// Conversation looks a conversation up by id.
func (s *Store) Conversation(id string) (*rest.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// ConversationsOf lists the conversations a user participates in, most
// recently active first.
func (s *Store) ConversationsOf(userID string) []*rest.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rest.Conversation
	for _, conv := range s.conversations {
		for _, pid := range conv.ParticipantIDs {
			if pid == userID {
				out = append(out, cloneConversation(conv))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *Store) IsParticipant(conversationID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	for _, pid := range conv.ParticipantIDs {
		if pid == userID {
			return true
		}
	}
	return false
}

// AppendMessage stores a new message and returns it with id and timestamps
// assigned.
func (s *Store) AppendMessage(conversationID, senderID, content string) (*rest.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	sender, ok := s.users[senderID]
	if !ok {
		return nil, ErrNotFound
	}

	at := s.now().UTC()
	msg := &rest.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.byMessageID[msg.ID] = msg
	conv.LastMessageAt = at
	return cloneMessage(msg), nil
}

// EditMessage replaces a message's content. Only the sender may edit.
func (s *Store) EditMessage(messageID, editorID, content string) (*rest.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byMessageID[messageID]
	if !ok || msg.SenderID != editorID {
		return nil, ErrNotFound
	}
	msg.Content = content
	msg.IsEdited = true
	msg.UpdatedAt = s.now().UTC()
	return cloneMessage(msg), nil
}

// DeleteMessage marks a message deleted. Only the sender may delete.
func (s *Store) DeleteMessage(messageID, deleterID string) (*rest.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byMessageID[messageID]
	if !ok || msg.SenderID != deleterID {
		return nil, ErrNotFound
	}
	msg.IsDeleted = true
	msg.Content = ""
	msg.UpdatedAt = s.now().UTC()
	return cloneMessage(msg), nil
}

// Message looks a message up by id.
func (s *Store) Message(messageID string) (*rest.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byMessageID[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(msg), nil
}

// Messages returns one history page, newest first, and whether older
// messages exist past the page.
func (s *Store) Messages(conversationID string, skip, limit int) ([]*rest.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	n := len(all)
	if skip >= n {
		return nil, false
	}
	if limit <= 0 {
		limit = 50
	}
	// all is ascending; page from the newest end.
	end := n - skip
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := make([]*rest.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		page = append(page, cloneMessage(all[i]))
	}
	return page, start > 0
}

// AttachMedia links stored media to a message.
func (s *Store) AttachMedia(messageID string, media protocol.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byMessageID[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.Media = append(msg.Media, media)
	msg.UpdatedAt = s.now().UTC()
	return nil
}

func cloneUser(u *rest.User) *rest.User {
	out := *u
	return &out
}

func cloneConversation(c *rest.Conversation) *rest.Conversation {
	out := *c
	out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	return &out
}

func cloneMessage(m *rest.Message) *rest.Message {
	out := *m
	out.Media = append([]protocol.Media(nil), m.Media...)
	return &out
}
