package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chatstream/testutil"
	"github.com/onnwee/chatstream/twitchapi"
)

// End to end through the real HTTP clients: badge tables from the mock Helix
// API, comment pages from the mock GQL endpoint, released against a reported
// playback position.
func TestSessionReplayEndToEnd(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("app-token", 3600)
	mock.MockGlobalBadgesResponse([]map[string]any{
		{
			"set_id": "subscriber",
			"versions": []map[string]any{
				{"id": "12", "image_url_1x": "http://cdn/sub-1", "image_url_2x": "http://cdn/sub-2", "image_url_4x": "http://cdn/sub-4"},
			},
		},
	})
	mock.MockChannelBadgesResponse(nil)
	mock.MockCommentsResponse(
		testutil.CommentsPage(false, true,
			testutil.CommentEdge("c1", "Foo", "hello chat", 3),
			testutil.CommentEdge("c2", "Bar", "later message", 8),
		),
	)

	hc := mock.Client()
	deps := Deps{
		Helix: &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: "id", ClientSecret: "secret", HTTPClient: hc},
			ClientID:       "id",
			HTTPClient:     hc,
		},
		Comments: &twitchapi.GQLClient{Endpoint: mock.URL + "/gql"},
	}

	events := newEventRecorder()
	s := NewSession(Config{Channel: "bar", ChannelID: "123", VideoID: "v1"}, deps, events)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	t.Cleanup(s.Stop)

	s.ReportPosition(3, false)
	msg := recvMessage(t, events)
	if msg.Body != "hello chat" || msg.Author != "Foo" {
		t.Errorf("message = %+v", msg)
	}
	wantQuiet(t, events.messages, "early release of the second comment")

	s.ReportPosition(8, false)
	msg = recvMessage(t, events)
	if msg.Body != "later message" || msg.Author != "Bar" {
		t.Errorf("message = %+v", msg)
	}

	// The badge tables really came over HTTP.
	if b, ok := s.registry.Resolve("subscriber", "12"); !ok || b.URLs[1] != "http://cdn/sub-1" {
		t.Errorf("badge = %v, %v", b, ok)
	}
}

// End to end over a real TCP connection: authenticate, join, then dispatch a
// wire message through enrichment to the callback surface.
func TestSessionLiveEndToEnd(t *testing.T) {
	srv := testutil.NewFakeChatServer(t)

	events := newEventRecorder()
	s := NewSession(Config{
		Channel:  "bar",
		Server:   "127.0.0.1",
		Port:     srv.Port(),
		Username: "someuser",
		Token:    "secret",
	}, Deps{}, events)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	t.Cleanup(s.Stop)

	var conn *testutil.FakeChatConn
	select {
	case conn = <-srv.Conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection attempt")
	}

	if got := conn.ReadLine(t); got != "PASS oauth:secret" {
		t.Errorf("auth line = %q", got)
	}
	if got := conn.ReadLine(t); got != "NICK someuser" {
		t.Errorf("nick line = %q", got)
	}
	if got := conn.ReadLine(t); got != "USER someuser" {
		t.Errorf("user line = %q", got)
	}

	conn.WriteLine(t, ":tmi.twitch.tv 004 someuser :-")
	if got := conn.ReadLine(t); !strings.HasPrefix(got, "CAP REQ") {
		t.Errorf("post-welcome line = %q, want capability request", got)
	}
	if got := conn.ReadLine(t); got != "JOIN #bar" {
		t.Errorf("join line = %q", got)
	}

	conn.WriteLine(t, "@display-name=Foo;color=#FF0000 :foo!foo@foo.tmi.twitch.tv PRIVMSG #bar :hello")
	msg := recvMessage(t, events)
	if msg.Body != "hello" || msg.Author != "Foo" || msg.Color != "#FF0000" {
		t.Errorf("message = %+v", msg)
	}
}
