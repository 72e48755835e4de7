package protocol

import "time"

// Type identifies the kind of envelope carried by a frame.
type Type string

// Client → server envelope types.
const (
	TypeAuth           Type = "auth"
	TypeMessage        Type = "message"
	TypeMessageEdit    Type = "message_edit"
	TypeMessageDelete  Type = "message_delete"
	TypeMessageForward Type = "message_forward"
	TypeTypingStart    Type = "typing_start"
	TypeTypingStop     Type = "typing_stop"
	TypeMarkRead       Type = "mark_read"
	TypeSubscribe      Type = "subscribe"
	TypeUnsubscribe    Type = "unsubscribe"
	TypeAck            Type = "ack"
	TypePing           Type = "ping"
)

// Server → client envelope types. The message, message_edit, message_delete
// and message_forward types appear in both directions with different shapes.
const (
	TypeAuthSuccess     Type = "auth_success"
	TypeMarkReadSuccess Type = "mark_read_success"
	TypeMessageRead     Type = "message_read"
	TypeUserOnline      Type = "user_online"
	TypeUserOffline     Type = "user_offline"
	TypeMessageAck      Type = "message_ack"
	TypePong            Type = "pong"
	TypeError           Type = "error"
)

// Media describes one attachment resolved by the server.
type Media struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Meta carries the fields common to every inbound envelope. The sequence is
// zero only on pong frames.
type Meta struct {
	Type     Type   `json:"type"`
	Sequence uint64 `json:"sequence,omitempty"`
}

// Seq returns the server-assigned sequence number of the envelope.
func (m Meta) Seq() uint64 { return m.Sequence }

// Inbound is implemented by every server → client envelope.
type Inbound interface {
	InboundType() Type
	Seq() uint64
}

// Outbound is implemented by every client → server envelope.
type Outbound interface {
	OutboundType() Type
}

// Auth authenticates the connection. It must be the first envelope sent.
type Auth struct {
	Type  Type   `json:"type"`
	Token string `json:"token"`
}

// NewAuth returns an auth envelope for the given bearer token.
func NewAuth(token string) *Auth { return &Auth{Type: TypeAuth, Token: token} }

func (*Auth) OutboundType() Type { return TypeAuth }

// MessageSend creates a new message in a conversation. The server assigns the
// message id and echoes the full message back on the event stream; there is no
// request id on the echo.
type MessageSend struct {
	Type            Type     `json:"type"`
	ConversationID  string   `json:"conversationId"`
	Content         string   `json:"content"`
	ForwardedFromID string   `json:"forwardedFromId,omitempty"`
	MediaIDs        []string `json:"mediaIds,omitempty"`
}

// NewMessageSend returns a message-create envelope.
func NewMessageSend(conversationID, content string) *MessageSend {
	return &MessageSend{Type: TypeMessage, ConversationID: conversationID, Content: content}
}

func (*MessageSend) OutboundType() Type { return TypeMessage }

// MessageEdit replaces the content of an existing message.
type MessageEdit struct {
	Type      Type   `json:"type"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// NewMessageEdit returns a message-edit envelope.
func NewMessageEdit(messageID, content string) *MessageEdit {
	return &MessageEdit{Type: TypeMessageEdit, MessageID: messageID, Content: content}
}

func (*MessageEdit) OutboundType() Type { return TypeMessageEdit }

// MessageDelete removes a message.
type MessageDelete struct {
	Type      Type   `json:"type"`
	MessageID string `json:"messageId"`
}

// NewMessageDelete returns a message-delete envelope.
func NewMessageDelete(messageID string) *MessageDelete {
	return &MessageDelete{Type: TypeMessageDelete, MessageID: messageID}
}

func (*MessageDelete) OutboundType() Type { return TypeMessageDelete }

// MessageForward copies an existing message into another conversation.
type MessageForward struct {
	Type           Type   `json:"type"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// NewMessageForward returns a message-forward envelope.
func NewMessageForward(messageID, conversationID string) *MessageForward {
	return &MessageForward{Type: TypeMessageForward, MessageID: messageID, ConversationID: conversationID}
}

func (*MessageForward) OutboundType() Type { return TypeMessageForward }

// Typing signals the start or stop of typing in a conversation.
type Typing struct {
	Type           Type   `json:"type"`
	ConversationID string `json:"conversationId"`
}

// NewTypingStart returns a typing_start envelope.
func NewTypingStart(conversationID string) *Typing {
	return &Typing{Type: TypeTypingStart, ConversationID: conversationID}
}

// NewTypingStop returns a typing_stop envelope.
func NewTypingStop(conversationID string) *Typing {
	return &Typing{Type: TypeTypingStop, ConversationID: conversationID}
}

func (t *Typing) OutboundType() Type { return t.Type }

// MarkRead reports that the local user has read a message.
type MarkRead struct {
	Type           Type   `json:"type"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// NewMarkRead returns a mark_read envelope.
func NewMarkRead(messageID, conversationID string) *MarkRead {
	return &MarkRead{Type: TypeMarkRead, MessageID: messageID, ConversationID: conversationID}
}

func (*MarkRead) OutboundType() Type { return TypeMarkRead }

// Subscribe opts the session into live events for a conversation.
type Subscribe struct {
	Type           Type   `json:"type"`
	ConversationID string `json:"conversationId"`
}

// NewSubscribe returns a subscribe envelope.
func NewSubscribe(conversationID string) *Subscribe {
	return &Subscribe{Type: TypeSubscribe, ConversationID: conversationID}
}

func (*Subscribe) OutboundType() Type { return TypeSubscribe }

// Unsubscribe opts the session out of live events for a conversation.
type Unsubscribe struct {
	Type           Type   `json:"type"`
	ConversationID string `json:"conversationId"`
}

// NewUnsubscribe returns an unsubscribe envelope.
func NewUnsubscribe(conversationID string) *Unsubscribe {
	return &Unsubscribe{Type: TypeUnsubscribe, ConversationID: conversationID}
}

func (*Unsubscribe) OutboundType() Type { return TypeUnsubscribe }

// Ack acknowledges receipt of an inbound message envelope.
type Ack struct {
	Type      Type   `json:"type"`
	MessageID string `json:"messageId"`
	Sequence  uint64 `json:"sequence,omitempty"`
}

// NewAck returns an ack envelope for the given message and sequence.
func NewAck(messageID string, sequence uint64) *Ack {
	return &Ack{Type: TypeAck, MessageID: messageID, Sequence: sequence}
}

func (*Ack) OutboundType() Type { return TypeAck }

// Ping is the client heartbeat. The server answers with pong.
type Ping struct {
	Type Type `json:"type"`
}

// NewPing returns a ping envelope.
func NewPing() *Ping { return &Ping{Type: TypePing} }

func (*Ping) OutboundType() Type { return TypePing }

// AuthSuccess confirms authentication and identifies the local user.
type AuthSuccess struct {
	Meta
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

func (*AuthSuccess) InboundType() Type { return TypeAuthSuccess }

// MessageEvent is the server's representation of a message, delivered both as
// a live push to subscribers and as the echo of the session's own send.
type MessageEvent struct {
	Meta
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	ConversationID string    `json:"conversationId"`
	Media          []Media   `json:"media"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	IsEdited       bool      `json:"isEdited"`
	IsDeleted      bool      `json:"isDeleted"`
}

func (*MessageEvent) InboundType() Type { return TypeMessage }

// MessageEdited reports that a message's content changed.
type MessageEdited struct {
	Meta
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (*MessageEdited) InboundType() Type { return TypeMessageEdit }

// MessageDeleted reports that a message was deleted.
type MessageDeleted struct {
	Meta
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

func (*MessageDeleted) InboundType() Type { return TypeMessageDelete }

// MessageForwarded reports a message forwarded into a conversation. It is a
// new message in the target conversation carrying a back reference to the
// original.
type MessageForwarded struct {
	Meta
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversationId"`
	Content         string    `json:"content"`
	SenderID        string    `json:"senderId"`
	SenderName      string    `json:"senderName"`
	ForwardedFromID string    `json:"forwardedFromId"`
	Media           []Media   `json:"media"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (*MessageForwarded) InboundType() Type { return TypeMessageForward }

// TypingEvent reports that another user started or stopped typing. The Meta
// type distinguishes the two.
type TypingEvent struct {
	Meta
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	ConversationID string `json:"conversationId"`
}

func (e *TypingEvent) InboundType() Type { return e.Type }

// Started reports whether this event is a typing_start.
func (e *TypingEvent) Started() bool { return e.Type == TypeTypingStart }

// MarkReadSuccess confirms the session's own mark_read.
type MarkReadSuccess struct {
	Meta
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

func (*MarkReadSuccess) InboundType() Type { return TypeMarkReadSuccess }

// MessageRead reports that another participant read a message.
type MessageRead struct {
	Meta
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
	ReaderName     string `json:"readerName"`
}

func (*MessageRead) InboundType() Type { return TypeMessageRead }

// PresenceEvent reports a user coming online or going offline. The Meta type
// distinguishes the two; LastSeen is set on user_offline.
type PresenceEvent struct {
	Meta
	UserID   string     `json:"userId"`
	UserName string     `json:"userName"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

func (e *PresenceEvent) InboundType() Type { return e.Type }

// Online reports whether this event is a user_online.
func (e *PresenceEvent) Online() bool { return e.Type == TypeUserOnline }

// MessageAck reports the delivery status of a previously sent message.
type MessageAck struct {
	Meta
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func (*MessageAck) InboundType() Type { return TypeMessageAck }

// Pong is the server's answer to ping. It carries no sequence.
type Pong struct {
	Meta
}

func (*Pong) InboundType() Type { return TypePong }

// ServerError is a protocol-level error reported by the server. It never
// terminates the session on its own.
type ServerError struct {
	Meta
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (*ServerError) InboundType() Type { return TypeError }

// Error implements the error interface so a ServerError can flow through
// error-typed callbacks.
func (e *ServerError) Error() string {
	return "protocol: server error " + e.Code + ": " + e.Message
}
