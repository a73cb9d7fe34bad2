// Package testutil holds test doubles shared across package tests: a mock
// Twitch HTTP API (Helix badges, OAuth token, GQL comments) and a scriptable
// fake IRC chat server.
package testutil

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch API responses.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}
}

// MockGlobalBadgesResponse adds a handler for the global chat badges endpoint.
func (m *MockTwitchServer) MockGlobalBadgesResponse(sets []map[string]any) {
	m.Handlers["/helix/chat/badges/global"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": sets})
	}
}

// MockChannelBadgesResponse adds a handler for the per-channel badges endpoint.
func (m *MockTwitchServer) MockChannelBadgesResponse(sets []map[string]any) {
	m.Handlers["/helix/chat/badges"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": sets})
	}
}

// MockCommentsResponse adds a handler for the GQL endpoint serving comment
// pages keyed by request order.
func (m *MockTwitchServer) MockCommentsResponse(pages ...map[string]any) {
	var served int
	m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
		idx := served
		if idx >= len(pages) {
			idx = len(pages) - 1
		}
		served++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"video": map[string]any{"comments": pages[idx]},
			},
		})
	}
}

// CommentsPage builds a GQL comments page payload.
func CommentsPage(hasNext, hasPrev bool, edges ...map[string]any) map[string]any {
	if edges == nil {
		edges = []map[string]any{}
	}
	return map[string]any{
		"edges":    edges,
		"pageInfo": map[string]any{"hasNextPage": hasNext, "hasPreviousPage": hasPrev},
	}
}

// CommentEdge builds one comment edge for CommentsPage.
func CommentEdge(cursor, author, text string, offset float64) map[string]any {
	return map[string]any{
		"cursor": cursor,
		"node": map[string]any{
			"contentOffsetSeconds": offset,
			"commenter":            map[string]any{"displayName": author},
			"message": map[string]any{
				"fragments": []map[string]any{{"text": text}},
			},
		},
	}
}

// RewriteTransport redirects every request to a test server, preserving path
// and query. Lets clients with hardcoded production URLs hit a local fake.
type RewriteTransport struct {
	Host string // host:port of the test server
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = "http"
	clone.URL.Host = t.Host
	return http.DefaultTransport.RoundTrip(clone)
}

// Client returns an http.Client whose requests all land on the mock server.
func (m *MockTwitchServer) Client() *http.Client {
	u := strings.TrimPrefix(m.URL, "http://")
	return &http.Client{Transport: &RewriteTransport{Host: u}}
}

// FakeChatConn is one accepted connection on a FakeChatServer.
type FakeChatConn struct {
	net.Conn
	r *bufio.Reader
}

// ReadLine reads one CRLF-terminated line from the client.
func (c *FakeChatConn) ReadLine(t *testing.T) string {
	t.Helper()
	line, err := c.r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// WriteLine sends one line to the client.
func (c *FakeChatConn) WriteLine(t *testing.T, line string) {
	t.Helper()
	if _, err := c.Conn.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("write line: %v", err)
	}
}

// FakeChatServer is a scriptable IRC chat server on a loopback listener.
type FakeChatServer struct {
	ln    net.Listener
	Conns chan *FakeChatConn
}

// NewFakeChatServer starts listening on a random loopback port.
func NewFakeChatServer(t *testing.T) *FakeChatServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &FakeChatServer{ln: ln, Conns: make(chan *FakeChatConn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.Conns <- &FakeChatConn{Conn: conn, r: bufio.NewReader(conn)}
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

// Port returns the listener's TCP port.
func (s *FakeChatServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}
