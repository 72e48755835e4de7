package devserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/tether-chat/tether/pkg/protocol"
	"github.com/tether-chat/tether/pkg/rest"
)

// client is one connected socket. Every client has its own outbound sequence
// counter; sequences are per connection, not global.
type client struct {
	conn     *websocket.Conn
	userID   string
	userName string

	writeMu sync.Mutex
	seq     atomic.Uint64

	mu   sync.Mutex
	subs map[string]bool
}

// write delivers one envelope built with the client's next sequence number.
func (c *client) write(build func(seq uint64) protocol.Inbound) error {
	env := build(c.seq.Add(1))
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// writeRaw delivers an envelope without assigning a sequence. Pong only.
func (c *client) writeRaw(env protocol.Inbound) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) subscribed(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[conversationID]
}

// handleWS upgrades the connection and runs its read loop. The first frame
// must be an auth envelope; anything else closes the socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	c, ok := s.authenticate(conn)
	if !ok {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.store.SetOnline(c.userID, true)
	s.broadcastPresence(c.userID, c.userName, true)
	s.logger.Info("socket connected", "user_id", c.userID)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		s.store.SetOnline(c.userID, false)
		s.broadcastPresence(c.userID, c.userName, false)
		conn.Close()
		s.logger.Info("socket closed", "user_id", c.userID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.DecodeOutbound(data)
		if err != nil {
			s.sendError(c, "MALFORMED", "cannot decode frame")
			continue
		}
		s.handleEnvelope(c, env)
	}
}

func (s *Server) authenticate(conn *websocket.Conn) (*client, bool) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	env, err := protocol.DecodeOutbound(data)
	if err != nil {
		return nil, false
	}
	auth, ok := env.(*protocol.Auth)
	if !ok {
		return nil, false
	}
	userID, err := s.verifyToken(auth.Token)
	if err != nil {
		payload, _ := json.Marshal(&protocol.ServerError{
			Meta:    protocol.Meta{Type: protocol.TypeError, Sequence: 1},
			Code:    "AUTH_INVALID",
			Message: "invalid token",
		})
		conn.WriteMessage(websocket.TextMessage, payload)
		return nil, false
	}
	user, err := s.store.User(userID)
	if err != nil {
		return nil, false
	}

	c := &client{
		conn:     conn,
		userID:   user.ID,
		userName: user.Name,
		subs:     make(map[string]bool),
	}
	c.write(func(seq uint64) protocol.Inbound {
		return &protocol.AuthSuccess{
			Meta:     protocol.Meta{Type: protocol.TypeAuthSuccess, Sequence: seq},
			UserID:   user.ID,
			UserName: user.Name,
		}
	})
	return c, true
}

func (s *Server) handleEnvelope(c *client, env protocol.Outbound) {
	switch ev := env.(type) {
	case *protocol.MessageSend:
		if !s.store.IsParticipant(ev.ConversationID, c.userID) {
			s.sendError(c, "FORBIDDEN", "not a participant")
			return
		}
		msg, err := s.store.AppendMessage(ev.ConversationID, c.userID, ev.Content)
		if err != nil {
			s.sendError(c, "NOT_FOUND", "conversation not found")
			return
		}
		s.broadcastMessage(msg)

	case *protocol.MessageEdit:
		msg, err := s.store.EditMessage(ev.MessageID, c.userID, ev.Content)
		if err != nil {
			s.sendError(c, "NOT_FOUND", "message not found")
			return
		}
		s.broadcastToParticipants(msg.ConversationID, func(seq uint64) protocol.Inbound {
			return &protocol.MessageEdited{
				Meta:           protocol.Meta{Type: protocol.TypeMessageEdit, Sequence: seq},
				MessageID:      msg.ID,
				ConversationID: msg.ConversationID,
				Content:        msg.Content,
				UpdatedAt:      msg.UpdatedAt,
			}
		})

	case *protocol.MessageDelete:
		msg, err := s.store.DeleteMessage(ev.MessageID, c.userID)
		if err != nil {
			s.sendError(c, "NOT_FOUND", "message not found")
			return
		}
		s.broadcastToParticipants(msg.ConversationID, func(seq uint64) protocol.Inbound {
			return &protocol.MessageDeleted{
				Meta:           protocol.Meta{Type: protocol.TypeMessageDelete, Sequence: seq},
				MessageID:      msg.ID,
				ConversationID: msg.ConversationID,
			}
		})

	case *protocol.MessageForward:
		original, err := s.store.Message(ev.MessageID)
		if err != nil || !s.store.IsParticipant(ev.ConversationID, c.userID) {
			s.sendError(c, "NOT_FOUND", "message or conversation not found")
			return
		}
		forwarded, err := s.store.AppendMessage(ev.ConversationID, c.userID, original.Content)
		if err != nil {
			s.sendError(c, "NOT_FOUND", "conversation not found")
			return
		}
		s.broadcastToParticipants(ev.ConversationID, func(seq uint64) protocol.Inbound {
			return &protocol.MessageForwarded{
				Meta:            protocol.Meta{Type: protocol.TypeMessageForward, Sequence: seq},
				ID:              forwarded.ID,
				ConversationID:  forwarded.ConversationID,
				Content:         forwarded.Content,
				SenderID:        forwarded.SenderID,
				SenderName:      forwarded.SenderName,
				ForwardedFromID: original.ID,
				Media:           original.Media,
				CreatedAt:       forwarded.CreatedAt,
			}
		})

	case *protocol.Typing:
		started := ev.Type == protocol.TypeTypingStart
		s.broadcastTyping(c, ev.ConversationID, started)

	case *protocol.MarkRead:
		c.write(func(seq uint64) protocol.Inbound {
			return &protocol.MarkReadSuccess{
				Meta:           protocol.Meta{Type: protocol.TypeMarkReadSuccess, Sequence: seq},
				MessageID:      ev.MessageID,
				ConversationID: ev.ConversationID,
			}
		})
		s.broadcast(ev.ConversationID, func(other *client) bool {
			return other != c
		}, func(seq uint64) protocol.Inbound {
			return &protocol.MessageRead{
				Meta:           protocol.Meta{Type: protocol.TypeMessageRead, Sequence: seq},
				MessageID:      ev.MessageID,
				ConversationID: ev.ConversationID,
				ReaderID:       c.userID,
				ReaderName:     c.userName,
			}
		})

	case *protocol.Subscribe:
		c.mu.Lock()
		c.subs[ev.ConversationID] = true
		c.mu.Unlock()

	case *protocol.Unsubscribe:
		c.mu.Lock()
		delete(c.subs, ev.ConversationID)
		c.mu.Unlock()

	case *protocol.Ack:
		s.logger.Debug("ack", "user_id", c.userID, "message_id", ev.MessageID)

	case *protocol.Ping:
		c.writeRaw(&protocol.Pong{Meta: protocol.Meta{Type: protocol.TypePong}})

	case *protocol.Auth:
		// Re-auth over a live socket: account switch.
		userID, err := s.verifyToken(ev.Token)
		if err != nil {
			s.sendError(c, "AUTH_INVALID", "invalid token")
			return
		}
		user, err := s.store.User(userID)
		if err != nil {
			s.sendError(c, "AUTH_INVALID", "unknown user")
			return
		}
		c.userID = user.ID
		c.userName = user.Name
		c.write(func(seq uint64) protocol.Inbound {
			return &protocol.AuthSuccess{
				Meta:     protocol.Meta{Type: protocol.TypeAuthSuccess, Sequence: seq},
				UserID:   user.ID,
				UserName: user.Name,
			}
		})

	default:
		s.sendError(c, "UNSUPPORTED", "unsupported envelope")
	}
}

// DropConnections force-closes every socket of the given user. The read loop
// observes the closure the same way it would a network failure, so clients
// exercise their reconnect path against it.
func (s *Server) DropConnections(userID string) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c.userID == userID {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.conn.Close()
	}
}

// broadcast delivers to every connected client that participates in the
// conversation and passes the filter.
func (s *Server) broadcast(conversationID string, include func(*client) bool, build func(seq uint64) protocol.Inbound) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if !s.store.IsParticipant(conversationID, c.userID) {
			continue
		}
		if include != nil && !include(c) {
			continue
		}
		if err := c.write(build); err != nil {
			s.logger.Debug("broadcast write failed", "user_id", c.userID, "error", err)
		}
	}
}

// broadcastMessage fans a message event out to the conversation's connected
// participants, the sender included: the sender's copy is the echo the client
// correlates against.
func (s *Server) broadcastMessage(msg *rest.Message) {
	s.broadcast(msg.ConversationID, nil, func(seq uint64) protocol.Inbound {
		return &protocol.MessageEvent{
			Meta:           protocol.Meta{Type: protocol.TypeMessage, Sequence: seq},
			ID:             msg.ID,
			Content:        msg.Content,
			SenderID:       msg.SenderID,
			SenderName:     msg.SenderName,
			ConversationID: msg.ConversationID,
			Media:          msg.Media,
			CreatedAt:      msg.CreatedAt,
			UpdatedAt:      msg.UpdatedAt,
			IsEdited:       msg.IsEdited,
			IsDeleted:      msg.IsDeleted,
		}
	})
}

// broadcastTyping excludes the typist and requires an active subscription:
// typing is view-scoped noise, not durable state.
func (s *Server) broadcastTyping(from *client, conversationID string, started bool) {
	kind := protocol.TypeTypingStop
	if started {
		kind = protocol.TypeTypingStart
	}
	s.broadcast(conversationID, func(other *client) bool {
		return other != from && other.subscribed(conversationID)
	}, func(seq uint64) protocol.Inbound {
		return &protocol.TypingEvent{
			Meta:           protocol.Meta{Type: kind, Sequence: seq},
			UserID:         from.userID,
			UserName:       from.userName,
			ConversationID: conversationID,
		}
	})
}

// broadcastPresence tells every other connected client about an online/offline
// transition.
func (s *Server) broadcastPresence(userID, userName string, online bool) {
	kind := protocol.TypeUserOffline
	if online {
		kind = protocol.TypeUserOnline
	}
	user, err := s.store.User(userID)
	if err != nil {
		return
	}

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c.userID != userID {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.write(func(seq uint64) protocol.Inbound {
			return &protocol.PresenceEvent{
				Meta:     protocol.Meta{Type: kind, Sequence: seq},
				UserID:   userID,
				UserName: userName,
				LastSeen: user.LastSeen,
			}
		})
	}
}

func (s *Server) sendError(c *client, code, message string) {
	c.write(func(seq uint64) protocol.Inbound {
		return &protocol.ServerError{
			Meta:    protocol.Meta{Type: protocol.TypeError, Sequence: seq},
			Code:    code,
			Message: message,
		}
	})
}

// broadcastToParticipants is broadcast without a filter.
func (s *Server) broadcastToParticipants(conversationID string, build func(seq uint64) protocol.Inbound) {
	s.broadcast(conversationID, nil, build)
}
