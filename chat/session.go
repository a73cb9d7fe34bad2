// Package chat orchestrates one chat session: exactly one of a live connection
// or a replay synchronizer, wired through badge and emote enrichment into the
// unified message model delivered to the callback surface.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/onnwee/chatstream/badge"
	"github.com/onnwee/chatstream/emote"
	"github.com/onnwee/chatstream/irc"
	"github.com/onnwee/chatstream/replay"
	"github.com/onnwee/chatstream/telemetry"
	"github.com/onnwee/chatstream/twitchapi"
)

// Message is the unified chat message model, immutable after construction.
type Message struct {
	ID            string
	Body          string
	Author        string
	Color         string
	Badges        []*badge.Badge
	Emotes        map[int]emote.Emote // rune offset -> emote
	Highlight     bool
	SystemMessage string
}

// Events is the callback surface exposed to the UI collaborator. Every call
// arrives on the session's delivery goroutine, never on the protocol worker.
type Events interface {
	OnMessage(msg *Message)
	OnClear(target string)
	OnConnecting()
	OnConnected()
	OnConnectionFailed()
	OnReconnecting()
	OnRoomState(r9k, slow, subsOnly bool)
	OnCustomEmotesLoaded(channel, global []emote.Emote)
	OnEmoteSetsFetched(sets []string)
}

// Config describes one session. A non-empty VideoID selects replay mode;
// otherwise the session connects live. An empty Username selects anonymous
// login.
type Config struct {
	Channel   string // channel login, without '#'
	ChannelID string // numeric broadcaster id, used for channel badges/emotes
	VideoID   string

	Server  string
	Port    int
	PortTLS int
	UseTLS  bool

	Username string
	Token    string
}

// Deps are the session's external collaborators. Nil fields degrade the
// matching enrichment rather than failing the session.
type Deps struct {
	Helix    badge.HelixSource
	Badges   badge.ProviderSource
	Emotes   emote.ProviderSource
	Comments replay.PageSource
}

// Session owns exactly one of a live connection or a replay synchronizer for
// its lifetime. Drive it with Run on a dedicated goroutine; halt with Stop.
type Session struct {
	cfg      Config
	deps     Deps
	events   Events
	registry *badge.Registry
	emotes   *emote.Resolver
	tracker  *RoomTracker
	handlers map[string]func(*irc.Message)
	logger   *slog.Logger

	conn *irc.Conn
	sync *replay.Synchronizer

	mu          sync.Mutex
	localName   string
	localColor  string
	localBadges []irc.BadgePair
	emoteSets   []string
	seenState   bool

	deliver  chan func()
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewSession(cfg Config, deps Deps, events Events) *Session {
	telemetry.Init()
	s := &Session{
		cfg:      cfg,
		deps:     deps,
		events:   events,
		registry: badge.NewRegistry(),
		emotes:   emote.NewResolver(),
		deliver:  make(chan func(), 64),
		stopCh:   make(chan struct{}),
		logger:   slog.Default().With(slog.String("component", "chat"), slog.String("channel", cfg.Channel)),
	}
	s.tracker = NewRoomTracker(func(st RoomState) {
		s.dispatch(func() { s.events.OnRoomState(st.R9K, st.Slow, st.SubsOnly) })
	})
	s.handlers = map[string]func(*irc.Message){
		"PRIVMSG":    s.handleChatMessage,
		"USERNOTICE": s.handleChatMessage,
		"USERSTATE":  s.handleUserState,
		"ROOMSTATE":  s.handleRoomState,
		"NOTICE":     s.handleNotice,
		"CLEARCHAT":  s.handleClearChat,
		"CLEARMSG":   s.handleClearMsg,
		"JOIN":       func(*irc.Message) {},
	}

	if cfg.VideoID != "" {
		s.sync = replay.NewSynchronizer(cfg.VideoID, deps.Comments, s.emitReplay, replay.Hooks{
			Connected:    func() { s.dispatch(s.events.OnConnected) },
			Reconnecting: func() { s.dispatch(s.events.OnReconnecting) },
		})
	} else {
		s.conn = irc.NewConn(irc.Config{
			Server:   cfg.Server,
			Port:     cfg.Port,
			PortTLS:  cfg.PortTLS,
			UseTLS:   cfg.UseTLS,
			Username: cfg.Username,
			Token:    cfg.Token,
			Channel:  cfg.Channel,
		}, s)
	}
	return s
}

// Mode reports "live" or "replay".
func (s *Session) Mode() string {
	if s.sync != nil {
		return "replay"
	}
	return "live"
}

// Run loads the badge tables, kicks off the async custom-emote load and then
// blocks in the connection or synchronization loop until Stop.
func (s *Session) Run(ctx context.Context) {
	go s.deliveryLoop()

	// Badge tables load before the first message can need them. Custom
	// emotes load asynchronously; messages that race ahead of the load
	// simply find no custom matches.
	s.registry.Load(ctx, s.deps.Helix, s.deps.Badges, s.cfg.ChannelID)
	go func() {
		channel, global := s.emotes.LoadCustom(ctx, s.deps.Emotes, s.cfg.ChannelID)
		s.dispatch(func() { s.events.OnCustomEmotesLoaded(channel, global) })
	}()

	if s.sync != nil {
		s.sync.Run(ctx)
	} else {
		s.conn.Run(ctx)
	}
}

// Stop halts the session permanently. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.conn != nil {
			s.conn.Stop()
		}
		if s.sync != nil {
			s.sync.Stop()
		}
	})
}

// ReportPosition forwards a playback position update to the replay
// synchronizer. No-op in live mode.
func (s *Session) ReportPosition(seconds float64, isSeek bool) {
	if s.sync != nil {
		s.sync.ReportPosition(seconds, isSeek)
	}
}

// Send sends a chat message on the live connection.
func (s *Session) Send(text string) error {
	if s.conn == nil {
		return errors.New("send requires a live session")
	}
	return s.conn.SendMessage(text)
}

// Snapshot is a point-in-time view of the session for status reporting.
type Snapshot struct {
	Mode             string          `json:"mode"`
	Channel          string          `json:"channel"`
	VideoID          string          `json:"video_id,omitempty"`
	RoomState        RoomState       `json:"room_state"`
	LocalDisplayName string          `json:"local_display_name,omitempty"`
	LocalColor       string          `json:"local_color,omitempty"`
	LocalBadges      []irc.BadgePair `json:"local_badges,omitempty"`
	EmoteSets        []string        `json:"emote_sets,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	name := s.localName
	color := s.localColor
	badges := s.localBadges
	sets := s.emoteSets
	s.mu.Unlock()
	return Snapshot{
		Mode:             s.Mode(),
		Channel:          s.cfg.Channel,
		VideoID:          s.cfg.VideoID,
		RoomState:        s.tracker.State(),
		LocalDisplayName: name,
		LocalColor:       color,
		LocalBadges:      badges,
		EmoteSets:        sets,
	}
}

// deliveryLoop runs every callback on one dedicated goroutine so the protocol
// worker is never blocked by, and never re-entered from, the collaborator.
func (s *Session) deliveryLoop() {
	for {
		select {
		case fn := <-s.deliver:
			fn()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Session) dispatch(fn func()) {
	select {
	case s.deliver <- fn:
	case <-s.stopCh:
	}
}

// irc.Handler --------------------------------------------------------------

func (s *Session) HandleConnecting() { s.dispatch(s.events.OnConnecting) }
func (s *Session) HandleConnected()  { s.dispatch(s.events.OnConnected) }
func (s *Session) HandleReconnecting() {
	s.dispatch(s.events.OnReconnecting)
}
func (s *Session) HandleConnectionFailed() { s.dispatch(s.events.OnConnectionFailed) }

func (s *Session) HandleWire(msg *irc.Message) {
	handler, ok := s.handlers[msg.Command]
	if !ok {
		s.logger.Debug("unhandled command", slog.String("command", msg.Command))
		return
	}
	handler(msg)
}

// Live message handling -----------------------------------------------------

func (s *Session) handleChatMessage(msg *irc.Message) {
	content := msg.Content
	author := msg.Tags["display-name"]

	native := s.emotes.FindTwitchEmotes(msg.Tags["emotes"], content)
	m := &Message{
		ID:            msg.Tags["id"],
		Body:          content,
		Author:        author,
		Color:         msg.Tags["color"],
		Badges:        s.collectBadges(irc.ParseBadgeTag(msg.Tags["badges"]), author),
		Emotes:        s.emotes.Enrich(native, content),
		SystemMessage: msg.Tags["system-msg"],
	}
	if name := s.localDisplayName(); name != "" && strings.Contains(content, "@"+name) {
		m.Highlight = true
	}

	telemetry.MessagesDelivered.Inc()
	s.dispatch(func() { s.events.OnMessage(m) })
}

// handleUserState captures the local user's identity from the first USERSTATE
// only, and reports the account's emote sets.
func (s *Session) handleUserState(msg *irc.Message) {
	s.mu.Lock()
	if s.seenState {
		s.mu.Unlock()
		return
	}
	s.seenState = true
	s.localName = msg.Tags["display-name"]
	s.localColor = msg.Tags["color"]
	s.localBadges = irc.ParseBadgeTag(msg.Tags["badges"])
	sets := irc.ParseList(msg.Tags["emote-sets"])
	s.emoteSets = sets
	s.mu.Unlock()

	s.dispatch(func() { s.events.OnEmoteSetsFetched(sets) })
}

func (s *Session) handleRoomState(msg *irc.Message) {
	s.tracker.ApplyRoomState(msg.Tags)
}

func (s *Session) handleNotice(msg *irc.Message) {
	s.tracker.ApplyNotice(msg.Tags["msg-id"])
}

func (s *Session) handleClearChat(msg *irc.Message) {
	target := msg.Content
	telemetry.MessagesCleared.Inc()
	s.dispatch(func() { s.events.OnClear(target) })
}

func (s *Session) handleClearMsg(msg *irc.Message) {
	target := msg.Tags["target-msg-id"]
	telemetry.MessagesCleared.Inc()
	s.dispatch(func() { s.events.OnClear(target) })
}

func (s *Session) localDisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localName
}

func (s *Session) collectBadges(pairs []irc.BadgePair, author string) []*badge.Badge {
	var out []*badge.Badge
	for _, p := range pairs {
		if b, ok := s.registry.Resolve(p.Set, p.Version); ok {
			out = append(out, b)
		}
	}
	// Third-party badges are keyed by login and additive to the declared set.
	out = append(out, s.registry.ForUser(strings.ToLower(author))...)
	return out
}

// Replay message handling ----------------------------------------------------

func (s *Session) emitReplay(node twitchapi.CommentNode) {
	var body strings.Builder
	native := make(map[int]emote.Emote)
	offset := 0
	for _, frag := range node.Message.Fragments {
		if frag.Emote != nil {
			native[offset] = emote.Twitch(frag.Text, frag.Emote.EmoteID)
		}
		body.WriteString(frag.Text)
		offset += len([]rune(frag.Text))
	}
	text := body.String()

	author := ""
	if node.Commenter != nil {
		author = node.Commenter.DisplayName
	}

	var badges []*badge.Badge
	for _, ub := range node.Message.UserBadges {
		if ub.SetID == "" || ub.Version == "" {
			continue
		}
		if b, ok := s.registry.Resolve(ub.SetID, ub.Version); ok {
			badges = append(badges, b)
		}
	}
	badges = append(badges, s.registry.ForUser(strings.ToLower(author))...)

	m := &Message{
		Body:   text,
		Author: author,
		Color:  node.Message.UserColor,
		Badges: badges,
		Emotes: s.emotes.Enrich(native, text),
	}

	telemetry.MessagesDelivered.Inc()
	s.dispatch(func() { s.events.OnMessage(m) })
}
