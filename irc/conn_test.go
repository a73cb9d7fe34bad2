package irc

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

type recordedEvent struct {
	kind string
	msg  *Message
}

type recordingHandler struct {
	events chan recordedEvent
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan recordedEvent, 64)}
}

func (h *recordingHandler) HandleWire(msg *Message) {
	h.events <- recordedEvent{kind: "wire", msg: msg}
}
func (h *recordingHandler) HandleConnecting()       { h.events <- recordedEvent{kind: "connecting"} }
func (h *recordingHandler) HandleConnected()        { h.events <- recordedEvent{kind: "connected"} }
func (h *recordingHandler) HandleReconnecting()     { h.events <- recordedEvent{kind: "reconnecting"} }
func (h *recordingHandler) HandleConnectionFailed() { h.events <- recordedEvent{kind: "failed"} }

func (h *recordingHandler) next(t *testing.T) recordedEvent {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for handler event")
		return recordedEvent{}
	}
}

func (h *recordingHandler) expect(t *testing.T, kind string) recordedEvent {
	t.Helper()
	ev := h.next(t)
	if ev.kind != kind {
		t.Fatalf("event = %q, want %q", ev.kind, kind)
	}
	return ev
}

// fakeChatServer accepts connections on a loopback listener and hands each one
// to the script function.
type fakeChatServer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeChatServer(t *testing.T) *fakeChatServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeChatServer{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns <- conn
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeChatServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeChatServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func writeLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func TestConnAuthJoinAndDispatch(t *testing.T) {
	srv := newFakeChatServer(t)
	h := newRecordingHandler()
	c := NewConn(Config{
		Server:   "127.0.0.1",
		Port:     srv.port(),
		Username: "testbot",
		Token:    "secret",
		Channel:  "somechannel",
	}, h)

	go c.Run(context.Background())
	defer c.Stop()

	h.expect(t, "connecting")

	conn := srv.accept(t)
	defer conn.Close()
	r := bufio.NewReader(conn)

	if got := readLine(t, r); got != "PASS oauth:secret" {
		t.Fatalf("auth line 1 = %q", got)
	}
	if got := readLine(t, r); got != "NICK testbot" {
		t.Fatalf("auth line 2 = %q", got)
	}
	if got := readLine(t, r); got != "USER testbot" {
		t.Fatalf("auth line 3 = %q", got)
	}

	writeLine(t, conn, ":tmi.twitch.tv 004 testbot :-")
	h.expect(t, "connected")

	if got := readLine(t, r); got != "CAP REQ :twitch.tv/tags twitch.tv/commands" {
		t.Fatalf("cap line = %q", got)
	}
	if got := readLine(t, r); got != "JOIN #somechannel" {
		t.Fatalf("join line = %q", got)
	}

	writeLine(t, conn, "PING :tmi.twitch.tv")
	if got := readLine(t, r); got != "PONG :tmi.twitch.tv" {
		t.Fatalf("pong line = %q", got)
	}

	writeLine(t, conn, "@display-name=Foo :foo!foo@foo.tmi.twitch.tv PRIVMSG #somechannel :hello")
	ev := h.expect(t, "wire")
	if ev.msg.Command != "PRIVMSG" || ev.msg.Content != "hello" {
		t.Fatalf("wire message = %+v", ev.msg)
	}

	if err := c.SendMessage("hi there"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := readLine(t, r); got != "PRIVMSG #somechannel :hi there" {
		t.Fatalf("privmsg line = %q", got)
	}

	c.Stop()
	if got := readLine(t, r); got != "PART #somechannel" {
		t.Fatalf("part line = %q", got)
	}
}

func TestConnAnonymousLogin(t *testing.T) {
	srv := newFakeChatServer(t)
	h := newRecordingHandler()
	c := NewConn(Config{
		Server:  "127.0.0.1",
		Port:    srv.port(),
		Channel: "somechannel",
	}, h)

	if !strings.HasPrefix(c.Nick(), "justinfan") {
		t.Fatalf("anonymous nick = %q, want justinfan prefix", c.Nick())
	}

	go c.Run(context.Background())
	defer c.Stop()
	h.expect(t, "connecting")

	conn := srv.accept(t)
	defer conn.Close()
	r := bufio.NewReader(conn)

	if got := readLine(t, r); got != "PASS "+AnonymousPassword {
		t.Fatalf("pass line = %q", got)
	}
	if got := readLine(t, r); got != "NICK "+c.Nick() {
		t.Fatalf("nick line = %q", got)
	}
}

func TestConnFastReconnectOnServerClose(t *testing.T) {
	srv := newFakeChatServer(t)
	h := newRecordingHandler()
	c := NewConn(Config{
		Server:   "127.0.0.1",
		Port:     srv.port(),
		Username: "testbot",
		Token:    "secret",
		Channel:  "somechannel",
	}, h)

	go c.Run(context.Background())
	defer c.Stop()

	h.expect(t, "connecting")
	conn := srv.accept(t)
	// Close without a stop request: the loop must retry immediately,
	// announcing a reconnect but no failure.
	_ = conn.Close()

	h.expect(t, "reconnecting")
	h.expect(t, "connecting")
	conn2 := srv.accept(t)
	_ = conn2.Close()
}

func TestConnStopHaltsReconnectLoop(t *testing.T) {
	srv := newFakeChatServer(t)
	h := newRecordingHandler()
	c := NewConn(Config{
		Server:   "127.0.0.1",
		Port:     srv.port(),
		Username: "testbot",
		Token:    "secret",
		Channel:  "somechannel",
	}, h)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	h.expect(t, "connecting")
	conn := srv.accept(t)
	defer conn.Close()

	c.Stop()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	// No further connection attempts.
	select {
	case <-srv.conns:
		t.Fatal("unexpected reconnect after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}
