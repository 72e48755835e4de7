package rest

import (
	"time"

	"github.com/tether-chat/tether/pkg/protocol"
)

// User is a chat account as the server reports it.
type User struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Conversation is a chat thread the current user participates in.
type Conversation struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ParticipantIDs []string  `json:"participantIds"`
	CreatedAt      time.Time `json:"createdAt"`
	LastMessageAt  time.Time `json:"lastMessageAt,omitempty"`
}

// Message is the REST representation of a message. It matches the shape of
// the live message event so both sources reconcile into one view.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	Content        string           `json:"content"`
	SenderID       string           `json:"senderId"`
	SenderName     string           `json:"senderName"`
	Media          []protocol.Media `json:"media"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	IsEdited       bool             `json:"isEdited"`
	IsDeleted      bool             `json:"isDeleted"`
}

// LoginRequest authenticates by user name. The dev server accepts any name
// and creates the account on first sight.
type LoginRequest struct {
	Name string `json:"name"`
}

// LoginResponse carries the bearer token for REST calls and the socket auth
// envelope.
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// CreateConversationRequest opens a new conversation with the given
// participants. The current user is always included.
type CreateConversationRequest struct {
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participantIds"`
}

type conversationsResponse struct {
	Conversations []*Conversation `json:"conversations"`
}

type messagesResponse struct {
	Messages []*Message `json:"messages"`
	HasMore  bool       `json:"hasMore"`
}
