package ami

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rdesksystems/dialer-engine/pkg/config"
)

// Session errors.
var (
	// ErrNotConnected indicates an action was submitted with no live session.
	ErrNotConnected = errors.New("ami: not connected")

	// ErrConnectionLost indicates the socket dropped while an action was in flight.
	ErrConnectionLost = errors.New("ami: connection lost")

	// ErrAuthFailed indicates the switch rejected the Login action.
	ErrAuthFailed = errors.New("ami: authentication failed")

	// ErrActionTimeout indicates no correlated response arrived within the action timeout.
	ErrActionTimeout = errors.New("ami: action response timeout")

	// ErrSessionClosed indicates the session was closed locally while an action was pending.
	ErrSessionClosed = errors.New("ami: session closed")
)

// State is the session's connection state.
type State string

// Session states.
const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
)

// Handler consumes one asynchronous event message. Handlers for the same
// event run in registration order on the reader goroutine; a panicking
// handler is recovered and logged without terminating the session.
type Handler func(Message)

type response struct {
	msg Message
	err error
}

// Session is one duplex AMI connection. All methods are safe for concurrent
// use. Reconnection is the caller's responsibility: after a disconnect,
// Connect may be called again on the same Session and event subscriptions
// survive.
type Session struct {
	cfg    *config.AMIConfig
	logger *slog.Logger

	mu      sync.Mutex // guards conn, state, pending, cancelRead
	conn    net.Conn
	state   State
	pending map[string]chan response

	// One message per socket write.
	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	actionSeq  atomic.Uint64
	cancelRead context.CancelFunc
}

// NewSession creates a session for the given AMI settings. It does not dial.
func NewSession(cfg *config.AMIConfig) *Session {
	return &Session{
		cfg:      cfg,
		logger:   slog.With("component", "ami"),
		state:    StateDisconnected,
		pending:  make(map[string]chan response),
		handlers: make(map[string][]Handler),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a handler for an event name. Subscriptions persist
// across reconnects.
func (s *Session) Subscribe(event string, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
}

// Connect opens the TCP connection, discards the server banner, and
// performs the Login handshake. On success the reader goroutine (and, when
// KeepaliveOn is set, the keepalive goroutine) is running and the session
// is usable.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}

	// The server greets with a single banner line before any messages.
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ConnectTimeout)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("setting banner deadline: %w", err)
	}
	banner, err := readLine(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("reading banner: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("clearing banner deadline: %w", err)
	}
	s.logger.Info("AMI banner received", "banner", banner)

	readCtx, cancelRead := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.pending = make(map[string]chan response)
	s.cancelRead = cancelRead
	s.mu.Unlock()

	go s.readLoop(conn)

	secret, err := s.cfg.Secret()
	if err != nil {
		s.teardown(ErrSessionClosed)
		return fmt.Errorf("resolving AMI secret: %w", err)
	}

	resp, err := s.SendAction(ctx, "Login", []Header{
		{"Username", s.cfg.Username},
		{"Secret", secret},
	})
	if err != nil {
		s.teardown(ErrSessionClosed)
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if !resp.Success() {
		s.teardown(ErrSessionClosed)
		return fmt.Errorf("%w: %s", ErrAuthFailed, resp.Get("Message"))
	}

	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()

	if s.cfg.KeepaliveOn {
		go s.runKeepalive(readCtx)
	}

	s.logger.Info("AMI session established", "host", s.cfg.Host, "port", s.cfg.Port)
	return nil
}

// SendAction serializes and submits one action, then waits for the
// correlated response. The wait is bounded by ctx and by the configured
// action timeout, whichever fires first.
func (s *Session) SendAction(ctx context.Context, name string, headers []Header) (Message, error) {
	actionID := s.nextActionID()
	ch := make(chan response, 1)

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := s.conn
	s.pending[actionID] = ch
	s.mu.Unlock()

	data := serializeAction(name, actionID, headers)

	s.writeMu.Lock()
	_, err := conn.Write(data)
	s.writeMu.Unlock()
	if err != nil {
		s.removeWaiter(actionID)
		s.teardown(ErrConnectionLost)
		return nil, fmt.Errorf("%w: writing %s: %v", ErrConnectionLost, name, err)
	}

	timer := time.NewTimer(s.cfg.ActionTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.msg, nil
	case <-ctx.Done():
		s.removeWaiter(actionID)
		return nil, ctx.Err()
	case <-timer.C:
		s.removeWaiter(actionID)
		return nil, fmt.Errorf("%w: %s after %s", ErrActionTimeout, name, s.cfg.ActionTimeout)
	}
}

// Close stops the reader, rejects outstanding waiters, and closes the socket.
func (s *Session) Close() error {
	s.teardown(ErrSessionClosed)
	return nil
}

// nextActionID generates a monotonically increasing unique correlation id.
func (s *Session) nextActionID() string {
	return fmt.Sprintf("%d-%s", s.actionSeq.Add(1), uuid.NewString()[:8])
}

func (s *Session) removeWaiter(actionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, actionID)
}

// teardown transitions to disconnected: completes pending waiters with
// cause, closes the socket, and fans out the synthetic session_closed event.
// Idempotent.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	if s.conn == nil && s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	cancel := s.cancelRead
	waiters := s.pending
	s.conn = nil
	s.cancelRead = nil
	s.pending = make(map[string]chan response)
	s.state = StateDisconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	for _, ch := range waiters {
		ch <- response{err: cause}
	}

	s.dispatchEvent(Message{keyEvent: EventSessionClosed})
	s.logger.Warn("AMI session disconnected", "cause", cause)
}

// readLoop reads the socket, reassembles messages on the CRLF CRLF
// terminator, and dispatches each. Exits on any read error.
func (s *Session) readLoop(conn net.Conn) {
	var buf bytes.Buffer
	chunk := make([]byte, 4096)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			for {
				idx := bytes.Index(buf.Bytes(), []byte(terminator))
				if idx < 0 {
					break
				}
				body := string(buf.Next(idx))
				buf.Next(len(terminator))
				s.dispatch(parseMessage(body))
			}
		}
		if err != nil {
			s.teardown(ErrConnectionLost)
			return
		}
	}
}

// dispatch routes one inbound message. A message carrying an ActionID with
// a registered waiter completes that waiter (even when it also carries an
// Event key); otherwise event messages fan out to subscribers; messages
// with neither key are logged and dropped.
func (s *Session) dispatch(msg Message) {
	if actionID := msg.ActionID(); actionID != "" {
		s.mu.Lock()
		ch, ok := s.pending[actionID]
		if ok {
			delete(s.pending, actionID)
		}
		s.mu.Unlock()
		if ok {
			ch <- response{msg: msg}
			return
		}
	}

	if msg.Event() != "" {
		s.dispatchEvent(msg)
		return
	}

	s.logger.Warn("Dropping malformed AMI message", "keys", len(msg))
}

// dispatchEvent delivers an event to every subscriber in registration order.
func (s *Session) dispatchEvent(msg Message) {
	event := msg.Event()

	s.handlersMu.RLock()
	handlers := make([]Handler, len(s.handlers[event]))
	copy(handlers, s.handlers[event])
	s.handlersMu.RUnlock()

	for _, h := range handlers {
		s.invokeHandler(event, h, msg)
	}
}

// invokeHandler runs one handler with panic isolation.
func (s *Session) invokeHandler(event string, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("AMI event handler panicked", "event", event, "panic", r)
		}
	}()
	h(msg)
}

// runKeepalive emits a Ping action on the configured interval until the
// session drops.
func (s *Session) runKeepalive(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.KeepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SendAction(ctx, "Ping", nil); err != nil {
				s.logger.Warn("AMI keepalive ping failed", "error", err)
			}
		}
	}
}

// readLine reads a single CRLF- or LF-terminated line byte-by-byte. Used
// only for the banner, before the framed reader takes over the socket.
func readLine(conn net.Conn) (string, error) {
	var line []byte
	b := make([]byte, 1)
	for {
		if _, err := conn.Read(b); err != nil {
			return "", err
		}
		if b[0] == '\n' {
			return string(bytes.TrimRight(line, "\r")), nil
		}
		line = append(line, b[0])
	}
}
