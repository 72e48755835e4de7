// Package devserver is a self-contained chat server with in-memory state:
// the REST surface, the live WebSocket stream and a media store. It exists
// for the CLI demo loop and for end-to-end tests; it is not a production
// server and persists nothing.
package devserver

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/tether-chat/tether/pkg/protocol"
	"github.com/tether-chat/tether/pkg/rest"
)

// Config configures a dev server.
type Config struct {
	// Logger for request and hub logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Media is the attachment store. Defaults to an in-memory store.
	Media MediaStore

	// Secret signs session tokens. Defaults to a random per-process secret.
	Secret []byte
}

// Server is one dev chat server. Create with New, expose with Handler.
type Server struct {
	logger   *slog.Logger
	store    *Store
	media    MediaStore
	secret   []byte
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a dev server.
func New(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	media := config.Media
	if media == nil {
		media = NewMemoryStore()
	}
	secret := config.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
	}

	return &Server{
		logger: logger.With("component", "devserver"),
		store:  NewStore(),
		media:  media,
		secret: secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Store exposes the in-memory state for test seeding.
func (s *Server) Store() *Store { return s.store }

// Handler returns the server's HTTP surface: REST under /api, media bytes
// under /media, the event stream at /ws.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/api/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/users/me", s.handleCurrentUser)
		r.Get("/api/conversations", s.handleListConversations)
		r.Post("/api/conversations", s.handleCreateConversation)
		r.Get("/api/conversations/{conversationID}/messages", s.handleMessages)
		r.Get("/api/messages/{messageID}", s.handleMessageByID)
		r.Post("/api/media", s.handleUploadMedia)
	})

	r.Get("/media/{mediaID}", s.handleServeMedia)
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req rest.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	user := s.store.UpsertUser(req.Name)
	token, err := s.mintToken(user.ID, user.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token mint failed")
		return
	}
	s.logger.Info("login", "user_id", user.ID, "name", user.Name)
	writeJSON(w, http.StatusOK, rest.LoginResponse{Token: token, User: *user})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.User(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs := s.store.ConversationsOf(userIDFrom(r))
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req rest.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	conv := s.store.CreateConversation(userIDFrom(r), req.Name, req.ParticipantIDs)
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if !s.store.IsParticipant(conversationID, userIDFrom(r)) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, hasMore := s.store.Messages(conversationID, skip, limit)
	writeJSON(w, http.StatusOK, map[string]any{"messages": page, "hasMore": hasMore})
}

func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request) {
	msg, err := s.store.Message(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if !s.store.IsParticipant(msg.ConversationID, userIDFrom(r)) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleServeMedia(w http.ResponseWriter, r *http.Request) {
	rc, err := s.media.Open(chi.URLParam(r, "mediaID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "media not found")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Debug("media serve aborted", "error", err)
	}
}

// handleUploadMedia accepts one multipart file, stores the bytes, and when a
// messageId field is present links the media to that message and fans the
// updated message out as a message event.
func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	id, err := s.media.Save(header.Filename, contentType, header.Size, file)
	if err != nil {
		if err == ErrTooLarge {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusInternalServerError, "store failed")
		return
	}

	media := protocol.Media{
		ID:   id,
		URL:  "/media/" + id,
		Type: contentType,
		Name: header.Filename,
		Size: header.Size,
	}

	if messageID := r.FormValue("messageId"); messageID != "" {
		msg, err := s.store.Message(messageID)
		if err != nil || msg.SenderID != userIDFrom(r) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		if err := s.store.AttachMedia(messageID, media); err != nil {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		if updated, err := s.store.Message(messageID); err == nil {
			s.broadcastMessage(updated)
		}
	}

	s.logger.Info("media stored", "media_id", id, "filename", header.Filename)
	writeJSON(w, http.StatusCreated, media)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
