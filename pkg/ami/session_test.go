package ami

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdesksystems/dialer-engine/pkg/config"
)

// fakeSwitch is a scripted AMI server accepting one connection.
type fakeSwitch struct {
	t        *testing.T
	listener net.Listener

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
}

func newFakeSwitch(t *testing.T) *fakeSwitch {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return &fakeSwitch{t: t, listener: l}
}

func (f *fakeSwitch) config() *config.AMIConfig {
	addr := f.listener.Addr().(*net.TCPAddr)
	return &config.AMIConfig{
		Host:             "127.0.0.1",
		Port:             addr.Port,
		Username:         "dialer",
		SecretCiphertext: "hunter2",
		ConnectTimeout:   2 * time.Second,
		ActionTimeout:    2 * time.Second,
	}
}

// acceptAndLogin accepts the client, sends the banner, and completes a
// successful Login handshake.
func (f *fakeSwitch) acceptAndLogin() {
	conn, err := f.listener.Accept()
	require.NoError(f.t, err)
	f.mu.Lock()
	f.conn = conn
	f.rd = bufio.NewReader(conn)
	f.mu.Unlock()

	f.write("Asterisk Call Manager/5.0.4\r\n")

	login := f.readMessage()
	require.Equal(f.t, "Login", login.Get("Action"))
	require.Equal(f.t, "dialer", login.Get("Username"))
	require.Equal(f.t, "hunter2", login.Get("Secret"))
	f.respond(Message{"Response": "Success", "ActionID": login.ActionID(), "Message": "Authentication accepted"})
}

// readMessage blocks until one complete client action arrives.
func (f *fakeSwitch) readMessage() Message {
	var lines []string
	for {
		line, err := f.rd.ReadString('\n')
		require.NoError(f.t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return parseMessage(strings.Join(lines, crlf))
		}
		lines = append(lines, line)
	}
}

func (f *fakeSwitch) respond(msg Message) {
	var b strings.Builder
	for k, v := range msg {
		b.WriteString(k + ": " + v + crlf)
	}
	b.WriteString(crlf)
	f.write(b.String())
}

func (f *fakeSwitch) write(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.conn.Write([]byte(s))
	require.NoError(f.t, err)
}

func (f *fakeSwitch) closeConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Close()
}

func TestConnectAndLogin(t *testing.T) {
	sw := newFakeSwitch(t)
	go sw.acceptAndLogin()

	s := NewSession(sw.config())
	require.NoError(t, s.Connect(context.Background()))
	defer func() { _ = s.Close() }()

	assert.Equal(t, StateConnected, s.State())
}

func TestLoginRejected(t *testing.T) {
	sw := newFakeSwitch(t)
	go func() {
		conn, err := sw.listener.Accept()
		require.NoError(t, err)
		sw.mu.Lock()
		sw.conn = conn
		sw.rd = bufio.NewReader(conn)
		sw.mu.Unlock()

		sw.write("Asterisk Call Manager/5.0.4\r\n")
		login := sw.readMessage()
		sw.respond(Message{"Response": "Error", "ActionID": login.ActionID(), "Message": "Authentication failed"})
	}()

	s := NewSession(sw.config())
	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestActionResponseCorrelation(t *testing.T) {
	sw := newFakeSwitch(t)
	go sw.acceptAndLogin()

	s := NewSession(sw.config())
	require.NoError(t, s.Connect(context.Background()))
	defer func() { _ = s.Close() }()

	events := make(chan Message, 1)
	s.Subscribe("Newchannel", func(m Message) { events <- m })

	go func() {
		status := sw.readMessage()
		// An unrelated event arriving before the response must not satisfy
		// the waiter.
		sw.respond(Message{"Event": "Newchannel", "Channel": "SIP/trunk/100"})
		sw.respond(Message{"Response": "Success", "ActionID": status.ActionID()})
	}()

	resp, err := s.Status(context.Background(), "SIP/trunk/100")
	require.NoError(t, err)
	assert.True(t, resp.Success())

	select {
	case ev := <-events:
		assert.Equal(t, "SIP/trunk/100", ev.Get("Channel"))
	case <-time.After(time.Second):
		t.Fatal("event was not delivered to subscriber")
	}
}

func TestHandlerPanicDoesNotKillSession(t *testing.T) {
	sw := newFakeSwitch(t)
	go sw.acceptAndLogin()

	s := NewSession(sw.config())
	require.NoError(t, s.Connect(context.Background()))
	defer func() { _ = s.Close() }()

	second := make(chan struct{}, 1)
	s.Subscribe("Hangup", func(Message) { panic("boom") })
	s.Subscribe("Hangup", func(Message) { second <- struct{}{} })

	sw.respond(Message{"Event": "Hangup", "Channel": "SIP/trunk/100"})

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second handler was not invoked after first panicked")
	}
	assert.Equal(t, StateConnected, s.State())
}

func TestConnectionLostCompletesWaiters(t *testing.T) {
	sw := newFakeSwitch(t)
	go sw.acceptAndLogin()

	s := NewSession(sw.config())
	require.NoError(t, s.Connect(context.Background()))

	closed := make(chan struct{}, 1)
	s.Subscribe(EventSessionClosed, func(Message) { closed <- struct{}{} })

	go func() {
		sw.readMessage() // swallow the action, then drop the socket
		sw.closeConn()
	}()

	_, err := s.Status(context.Background(), "SIP/trunk/100")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, StateDisconnected, s.State())

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("session_closed was not delivered")
	}
}

func TestActionTimeout(t *testing.T) {
	sw := newFakeSwitch(t)
	go sw.acceptAndLogin()

	cfg := sw.config()
	cfg.ActionTimeout = 100 * time.Millisecond

	s := NewSession(cfg)
	require.NoError(t, s.Connect(context.Background()))
	defer func() { _ = s.Close() }()

	go sw.readMessage() // swallow and never respond

	_, err := s.Status(context.Background(), "SIP/trunk/100")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActionTimeout)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, Reconnect, ClassifyError(ErrConnectionLost))
	assert.Equal(t, Reconnect, ClassifyError(ErrNotConnected))
	assert.Equal(t, Fatal, ClassifyError(ErrAuthFailed))
	assert.Equal(t, NoRetry, ClassifyError(ErrActionTimeout))
	assert.Equal(t, NoRetry, ClassifyError(context.Canceled))
	assert.Equal(t, NoRetry, ClassifyError(nil))
}
