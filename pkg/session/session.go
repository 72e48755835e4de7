package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tether-chat/tether/pkg/protocol"
	"github.com/tether-chat/tether/pkg/transport"
)

const tracerName = "tether/session"

// authResult is the outcome of one authentication exchange.
type authResult struct {
	ev  *protocol.AuthSuccess
	err error
}

// Session is the persistent connection to the chat server. Construct one per
// process with New, pass it to consumers explicitly, and drive its lifecycle
// with Connect, Disconnect and Close.
type Session struct {
	config  *Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	router  *Router
	pending *correlator

	ownsDispatcher bool

	mu             sync.Mutex
	conn           transport.Conn
	state          State
	manual         bool
	attempt        int
	gen            uint64
	token          string
	userID         string
	userName       string
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	authCh         chan authResult

	lastSeq atomic.Uint64

	listenerMu    sync.Mutex
	listenerSeq   int
	connListeners map[int]func()
}

// New creates a Session from the given config. A nil config uses
// DefaultConfig; the URL must be set either way.
func New(config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.Clone()

	ownsDispatcher := false
	if config.Dialer == nil {
		config.Dialer = transport.NewWebSocketDialer(nil)
	}
	if config.Dispatcher == nil {
		config.Dispatcher = NewSerialDispatcher()
		ownsDispatcher = true
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger.With("component", "session")
	s := &Session{
		config:         config,
		logger:         logger,
		metrics:        config.Metrics,
		tracer:         otel.Tracer(tracerName),
		state:          StateDisconnected,
		ownsDispatcher: ownsDispatcher,
		pending:        newCorrelator(),
	}
	s.router = NewRouter(config.Dispatcher, logger)
	return s
}

// Router returns the session's event router.
func (s *Session) Router() *Router { return s.router }

// Register installs a handler for the (scope, kind) pair on the session's
// router, replacing any prior handler.
func (s *Session) Register(scope string, kind Kind, h Handler) {
	s.router.Register(scope, kind, h)
}

// Unregister removes the handler for the (scope, kind) pair.
func (s *Session) Unregister(scope string, kind Kind) {
	s.router.Unregister(scope, kind)
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Authenticated reports whether the session is ready for traffic.
func (s *Session) Authenticated() bool {
	return s.State() == StateAuthenticated
}

// UserID returns the authenticated user's id, or "" before authentication.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// UserName returns the authenticated user's display name.
func (s *Session) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userName
}

// NotifyConnected registers fn to run on the Dispatcher each time the session
// reaches Authenticated, automatic reconnects included. The server holds
// per-connection state such as subscriptions; consumers that installed any
// reinstate it here. The returned function cancels the registration.
func (s *Session) NotifyConnected(fn func()) func() {
	s.listenerMu.Lock()
	if s.connListeners == nil {
		s.connListeners = make(map[int]func())
	}
	id := s.listenerSeq
	s.listenerSeq++
	s.connListeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.connListeners, id)
		s.listenerMu.Unlock()
	}
}

// LastSequence returns the highest sequence number seen on the inbound
// stream. Consumers may use it to detect gaps; the session does no
// gap-filling of its own.
func (s *Session) LastSequence() uint64 {
	return s.lastSeq.Load()
}

// Connect opens the session. It is idempotent: on a live connection it
// re-runs authentication only, which covers account switches; otherwise it
// dials the transport, starts the receive loop, sends the auth envelope and
// waits for auth_success (or AuthTimeout). An authentication failure does not
// schedule reconnects; the caller decides whether to retry.
func (s *Session) Connect(ctx context.Context, token string) error {
	ctx, span := s.tracer.Start(ctx, "session.connect",
		trace.WithAttributes(attribute.String("url", s.config.URL)))
	defer span.End()

	err := s.connect(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
	}
	return err
}

func (s *Session) connect(ctx context.Context, token string) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateAuthenticating:
		s.mu.Unlock()
		return ErrConnectInProgress
	case StateAuthenticated, StateConnectedUnauthenticated:
		// Live transport: re-run authentication only.
		conn := s.conn
		s.token = token
		authCh := make(chan authResult, 1)
		s.authCh = authCh
		s.state = StateAuthenticating
		s.mu.Unlock()
		s.notifyState(StateAuthenticating)

		if err := s.writeTo(conn, protocol.NewAuth(token)); err != nil {
			return err
		}
		return s.awaitAuth(ctx, authCh)
	}

	// Fresh connection.
	s.manual = false
	s.token = token
	s.state = StateConnecting
	s.mu.Unlock()
	s.notifyState(StateConnecting)

	conn, err := s.config.Dialer.Dial(ctx, s.config.URL, nil)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.notifyState(StateDisconnected)
		return fmt.Errorf("session: dial: %w", err)
	}

	s.mu.Lock()
	if s.manual {
		// Disconnect raced the dial.
		s.state = StateDisconnected
		s.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	s.conn = conn
	s.gen++
	gen := s.gen
	authCh := make(chan authResult, 1)
	s.authCh = authCh
	s.state = StateConnectedUnauthenticated
	s.mu.Unlock()
	s.notifyState(StateConnectedUnauthenticated)

	go s.readLoop(conn, gen)

	if err := s.writeTo(conn, protocol.NewAuth(token)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateConnectedUnauthenticated {
		s.state = StateAuthenticating
		s.mu.Unlock()
		s.notifyState(StateAuthenticating)
	} else {
		// auth_success raced ahead of us; the receive loop already moved the
		// state forward.
		s.mu.Unlock()
	}

	return s.awaitAuth(ctx, authCh)
}

// awaitAuth blocks the connecting caller (never the receive loop) until the
// authentication exchange resolves.
func (s *Session) awaitAuth(ctx context.Context, authCh <-chan authResult) error {
	timer := time.NewTimer(s.config.AuthTimeout)
	defer timer.Stop()

	select {
	case res := <-authCh:
		if res.err != nil {
			return res.err
		}
		return nil
	case <-timer.C:
		s.revertAuthWait()
		return ErrAuthTimeout
	case <-ctx.Done():
		s.revertAuthWait()
		return ctx.Err()
	}
}

// revertAuthWait returns an abandoned auth exchange to the unauthenticated
// state. The transport stays open; a later auth_success still authenticates.
func (s *Session) revertAuthWait() {
	s.mu.Lock()
	if s.state == StateAuthenticating {
		s.state = StateConnectedUnauthenticated
	}
	s.mu.Unlock()
}

// Disconnect is the only call that sets the manual-disconnect flag. It tears
// down timers and the transport synchronously, so the caller observes
// Disconnected immediately, and clears all handler registrations so no stale
// callback survives an account switch. Auto-reconnect stays suppressed until
// the next explicit Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.manual = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.stopHeartbeatLocked()
	conn := s.conn
	s.conn = nil
	s.gen++
	s.attempt = 0
	authCh := s.authCh
	s.authCh = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.pending.clear()
	s.router.Clear()
	if authCh != nil {
		select {
		case authCh <- authResult{err: ErrNotConnected}:
		default:
		}
	}
	s.notifyState(StateDisconnected)
	s.logger.Info("disconnected")
}

// Close disconnects and releases resources the session owns. The session must
// not be reused afterwards.
func (s *Session) Close() {
	s.Disconnect()
	if s.ownsDispatcher {
		if d, ok := s.config.Dispatcher.(*SerialDispatcher); ok {
			d.Close()
		}
	}
}

// Send encodes and writes one envelope. It does not wait for any server
// response.
func (s *Session) Send(env protocol.Outbound) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return s.writeTo(conn, env)
}

func (s *Session) writeTo(conn transport.Conn, env protocol.Outbound) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(data); err != nil {
		return fmt.Errorf("session: send %s: %w", env.OutboundType(), err)
	}
	s.metrics.frameSent(len(data))
	return nil
}

// SendMessageAwait sends a message-create envelope and blocks until the
// server's echo of it arrives, returning the server-assigned message. The
// match uses the first-self-echo heuristic documented on the package.
// ErrSendUnconfirmed means no echo arrived in time; the underlying send may
// still have gone through.
func (s *Session) SendMessageAwait(ctx context.Context, msg *protocol.MessageSend, timeout time.Duration) (*protocol.MessageEvent, error) {
	ctx, span := s.tracer.Start(ctx, "session.send_await",
		trace.WithAttributes(attribute.String("conversation_id", msg.ConversationID)))
	defer span.End()

	if s.State() != StateAuthenticated {
		return nil, ErrNotAuthenticated
	}
	if timeout <= 0 {
		timeout = s.config.SendTimeout
	}

	p := s.pending.add()
	if err := s.Send(msg); err != nil {
		s.pending.remove(p)
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-p.ch:
		if ev == nil {
			span.SetStatus(codes.Error, "connection lost")
			return nil, ErrSendUnconfirmed
		}
		span.SetAttributes(attribute.String("message_id", ev.ID))
		return ev, nil
	case <-timer.C:
		s.pending.remove(p)
		s.metrics.correlationTimeout()
		s.logger.Warn("send unconfirmed",
			"correlation_key", p.key,
			"conversation_id", msg.ConversationID,
			"age", time.Since(p.created))
		span.SetStatus(codes.Error, "echo timeout")
		return nil, ErrSendUnconfirmed
	case <-ctx.Done():
		s.pending.remove(p)
		return nil, ctx.Err()
	}
}

// readLoop is the single inbound loop for one connection. It runs until the
// transport reports closure. A frame that fails to decode is dropped; the
// loop continues.
func (s *Session) readLoop(conn transport.Conn, gen uint64) {
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			s.handleClose(gen, err)
			return
		}
		s.metrics.frameReceived(len(data))

		env, err := protocol.Decode(data)
		if err != nil {
			s.metrics.decodeError()
			s.logger.Warn("dropping frame", "error", err)
			continue
		}
		if seq := env.Seq(); seq > 0 {
			s.lastSeq.Store(seq)
		}
		s.handleInbound(conn, env)
	}
}

func (s *Session) handleInbound(conn transport.Conn, env protocol.Inbound) {
	switch ev := env.(type) {
	case *protocol.AuthSuccess:
		s.handleAuthSuccess(ev)
	case *protocol.Pong:
		s.logger.Debug("pong")
	case *protocol.ServerError:
		s.handleServerError(ev)
	case *protocol.MessageEvent:
		if ev.SenderID != "" && ev.SenderID == s.UserID() && s.pending.resolve(ev) {
			// Echo consumed by a pending correlated send.
		} else {
			s.router.dispatch(env)
		}
		s.ackMessage(conn, ev)
	default:
		s.router.dispatch(env)
	}
}

// ackMessage acknowledges an inbound message envelope. Best effort; the
// server tolerates missing acks.
func (s *Session) ackMessage(conn transport.Conn, ev *protocol.MessageEvent) {
	if ev.Seq() == 0 {
		return
	}
	if err := s.writeTo(conn, protocol.NewAck(ev.ID, ev.Seq())); err != nil {
		s.logger.Debug("ack failed", "message_id", ev.ID, "error", err)
	}
}

func (s *Session) handleAuthSuccess(ev *protocol.AuthSuccess) {
	s.mu.Lock()
	s.userID = ev.UserID
	s.userName = ev.UserName
	s.attempt = 0
	s.state = StateAuthenticated
	authCh := s.authCh
	s.authCh = nil
	s.startHeartbeatLocked()
	s.mu.Unlock()

	s.logger.Info("authenticated", "user_id", ev.UserID)
	s.notifyState(StateAuthenticated)

	if authCh != nil {
		select {
		case authCh <- authResult{ev: ev}:
		default:
		}
	}
}

func (s *Session) handleServerError(ev *protocol.ServerError) {
	s.mu.Lock()
	var authCh chan authResult
	if s.state == StateAuthenticating {
		authCh = s.authCh
		s.authCh = nil
		s.state = StateConnectedUnauthenticated
	}
	s.mu.Unlock()

	if authCh != nil {
		select {
		case authCh <- authResult{err: fmt.Errorf("%w: %s", ErrAuthFailed, ev.Message)}:
		default:
		}
		return
	}

	s.logger.Warn("server error", "code", ev.Code, "message", ev.Message)
	s.notifyError(ev)
}

// handleClose runs once per connection when the transport reports closure.
// The generation check discards close notifications from superseded
// connections.
func (s *Session) handleClose(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	s.conn.Close()
	s.conn = nil
	s.stopHeartbeatLocked()
	s.state = StateDisconnected
	authCh := s.authCh
	s.authCh = nil
	manual := s.manual
	scheduled := false
	exhausted := false
	if !manual {
		scheduled, exhausted = s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	s.pending.clear()
	if authCh != nil {
		select {
		case authCh <- authResult{err: fmt.Errorf("session: connection closed: %w", cause)}:
		default:
		}
	}

	s.logger.Info("connection closed",
		"cause", cause,
		"manual", manual,
		"reconnect_scheduled", scheduled)
	s.notifyState(StateDisconnected)
	if exhausted {
		s.notifyError(ErrReconnectExhausted)
	}
}

// scheduleReconnectLocked arms the reconnect timer with linear backoff:
// the n-th attempt waits n * ReconnectBaseDelay. Returns (scheduled,
// exhausted); exhausted means the attempt cap was already reached.
func (s *Session) scheduleReconnectLocked() (bool, bool) {
	if s.attempt >= s.config.MaxReconnectAttempts {
		return false, true
	}
	s.attempt++
	delay := time.Duration(s.attempt) * s.config.ReconnectBaseDelay
	s.metrics.reconnectScheduled()
	s.reconnectTimer = time.AfterFunc(delay, s.reconnect)
	s.logger.Info("reconnect scheduled", "attempt", s.attempt, "delay", delay)
	return true, false
}

func (s *Session) reconnect() {
	s.mu.Lock()
	if s.manual {
		s.mu.Unlock()
		return
	}
	token := s.token
	attempt := s.attempt
	s.mu.Unlock()

	if cb := s.config.OnReconnecting; cb != nil {
		s.config.Dispatcher.Dispatch(func() { cb(attempt) })
	}

	err := s.connect(context.Background(), token)
	if err == nil {
		return
	}
	s.logger.Warn("reconnect attempt failed", "error", err)

	s.mu.Lock()
	if s.manual {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		// The transport came up but authentication failed. Closing it routes
		// the retry decision through handleClose.
		conn := s.conn
		s.mu.Unlock()
		conn.Close()
		return
	}
	_, exhausted := s.scheduleReconnectLocked()
	s.mu.Unlock()
	if exhausted {
		s.notifyError(ErrReconnectExhausted)
	}
}

// startHeartbeatLocked starts the ping loop for the current connection,
// replacing any previous loop. Pongs are consumed silently; liveness
// detection relies on the transport's own close notification.
func (s *Session) startHeartbeatLocked() {
	s.stopHeartbeatLocked()
	stop := make(chan struct{})
	s.heartbeatStop = stop
	go s.heartbeat(stop)
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

func (s *Session) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Send(protocol.NewPing()); err != nil {
				s.logger.Debug("heartbeat send failed", "error", err)
				return
			}
			s.metrics.heartbeat()
		case <-stop:
			return
		}
	}
}

func (s *Session) notifyState(st State) {
	if cb := s.config.OnStateChange; cb != nil {
		s.config.Dispatcher.Dispatch(func() { cb(st) })
	}
	switch st {
	case StateAuthenticated:
		if cb := s.config.OnConnected; cb != nil {
			s.config.Dispatcher.Dispatch(cb)
		}
		s.listenerMu.Lock()
		listeners := make([]func(), 0, len(s.connListeners))
		for _, fn := range s.connListeners {
			listeners = append(listeners, fn)
		}
		s.listenerMu.Unlock()
		for _, fn := range listeners {
			s.config.Dispatcher.Dispatch(fn)
		}
	case StateDisconnected:
		if cb := s.config.OnDisconnected; cb != nil {
			s.config.Dispatcher.Dispatch(cb)
		}
	}
}

func (s *Session) notifyError(err error) {
	cb := s.config.OnError
	if cb == nil {
		return
	}
	s.config.Dispatcher.Dispatch(func() { cb(err) })
}
