// Package rest is the typed HTTP client for the chat server's request/response
// surface: accounts, conversations, message history and media upload. The live
// event stream is the session package's job; rest never touches the socket.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultTimeout = 10 * time.Second

// ErrNoToken is returned when an authenticated call is made before Login or
// SetToken.
var ErrNoToken = errors.New("rest: no bearer token set")

// Client talks to one chat server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a client for the given base URL, e.g. "http://localhost:8787".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewWithToken returns a client that reuses an existing bearer token.
func NewWithToken(baseURL, token string) *Client {
	c := New(baseURL)
	c.token = token
	return c
}

// Token returns the current bearer token, or "" before login.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login authenticates by name and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, name string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", LoginRequest{Name: name}, false, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

// CurrentUser fetches the account the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.doJSON(ctx, http.MethodGet, "/api/users/me", nil, true, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Conversations lists the current user's conversations.
func (c *Client) Conversations(ctx context.Context) ([]*Conversation, error) {
	var resp conversationsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// CreateConversation opens a new conversation.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*Conversation, error) {
	var conv Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", req, true, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Messages fetches one history page, newest first. skip counts messages from
// the newest end; the returned hasMore reports whether older pages exist.
func (c *Client) Messages(ctx context.Context, conversationID string, skip, limit int) ([]*Message, bool, error) {
	path := fmt.Sprintf("/api/conversations/%s/messages?skip=%d&limit=%d",
		url.PathEscape(conversationID), skip, limit)
	var resp messagesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, false, err
	}
	return resp.Messages, resp.HasMore, nil
}

// MessageByID fetches one message in its current server state.
func (c *Client) MessageByID(ctx context.Context, messageID string) (*Message, error) {
	var msg Message
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(messageID), nil, true, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, requireAuth bool, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		if err := c.bearer(req); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// bearer attaches the Authorization header, refusing calls whose token is
// missing or already expired. The expiry pre-check saves a round trip that
// would come back 401 anyway.
func (c *Client) bearer(req *http.Request) error {
	token := c.Token()
	if strings.TrimSpace(token) == "" {
		return ErrNoToken
	}
	if err := checkExpiry(token); err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error string `json:"error"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rest: api error (%d): %s", e.StatusCode, e.Message)
}

// AsAPIError unwraps err to an *APIError, or nil.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
