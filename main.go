// Command chatstream runs one chat session for a Twitch channel and exposes a
// minimal HTTP surface around it. It:
//   - Loads configuration and initializes structured logging.
//   - Starts a live IRC session, or a VOD replay session when TWITCH_VOD_ID
//     is set.
//   - Exposes /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatstream/chat"
	"github.com/onnwee/chatstream/config"
	"github.com/onnwee/chatstream/emote"
	"github.com/onnwee/chatstream/server"
	"github.com/onnwee/chatstream/telemetry"
	"github.com/onnwee/chatstream/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.TwitchVODID == "" {
		if err := cfg.ValidateChannel(); err != nil {
			slog.Error("config invalid", slog.Any("err", err))
			os.Exit(1)
		}
	}

	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chatstream", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := chat.Deps{}
	ffz := &twitchapi.FFZClient{}
	deps.Badges = ffz
	deps.Emotes = ffz

	// Helix badge lookups need an app access token; without client creds the
	// session degrades to FFZ badges only.
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		ts := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
		tctx, cancel := context.WithTimeout(ctx, 8*time.Second)
		if tok, err := ts.Get(tctx); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
		}
		cancel()
		deps.Helix = &twitchapi.HelixClient{AppTokenSource: ts, ClientID: cfg.TwitchClientID}
	} else {
		slog.Info("helix badges disabled (missing TWITCH_CLIENT_ID/SECRET)")
	}

	// Chat credentials. Anonymous unless the account opt-in is set and valid.
	username, token := "", ""
	if cfg.UseAccountChat {
		if err := cfg.ValidateAccountChat(); err != nil {
			slog.Error("account chat requested but not configured", slog.Any("err", err))
			os.Exit(1)
		}
		username = cfg.TwitchBotUsername
		token = strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:")

		// With a refresh token configured, pull a fresh access token instead
		// of trusting the possibly stale static one.
		if cfg.TwitchRefreshToken != "" && cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
			uts := twitchapi.NewUserTokenSource(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, token, cfg.TwitchRefreshToken)
			if fresh, err := uts.AccessToken(); err != nil {
				slog.Warn("chat token refresh failed, using configured token", slog.Any("err", err))
			} else {
				token = fresh
			}
		}
	}

	if cfg.TwitchVODID != "" {
		deps.Comments = &twitchapi.GQLClient{ClientID: cfg.TwitchClientID}
	}

	session := chat.NewSession(chat.Config{
		Channel:   cfg.TwitchChannel,
		ChannelID: cfg.TwitchChannelID,
		VideoID:   cfg.TwitchVODID,
		Server:    cfg.ChatServer,
		Port:      cfg.ChatPort,
		PortTLS:   cfg.ChatPortTLS,
		UseTLS:    cfg.ChatUseTLS,
		Username:  username,
		Token:     token,
	}, deps, &logEvents{logger: slog.Default().With(slog.String("component", "events"))})

	slog.Info("starting chat session",
		slog.String("mode", session.Mode()),
		slog.String("channel", cfg.TwitchChannel),
		slog.String("vod_id", cfg.TwitchVODID))

	go func() {
		if err := server.Start(ctx, session, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()
	go session.Run(ctx)

	<-ctx.Done()
	slog.Info("shutting down")
	session.Stop()
}

// logEvents is the default callback surface when no UI is attached: every
// event lands in the structured log.
type logEvents struct {
	logger *slog.Logger
}

func (e *logEvents) OnMessage(msg *chat.Message) {
	attrs := []any{
		slog.String("author", msg.Author),
		slog.String("body", msg.Body),
	}
	if msg.Highlight {
		attrs = append(attrs, slog.Bool("highlight", true))
	}
	if msg.SystemMessage != "" {
		attrs = append(attrs, slog.String("system_msg", msg.SystemMessage))
	}
	e.logger.Info("message", attrs...)
}

func (e *logEvents) OnClear(target string) {
	e.logger.Info("clear", slog.String("target", target))
}

func (e *logEvents) OnConnecting()       { e.logger.Info("connecting") }
func (e *logEvents) OnConnected()        { e.logger.Info("connected") }
func (e *logEvents) OnConnectionFailed() { e.logger.Warn("connection failed") }
func (e *logEvents) OnReconnecting()     { e.logger.Info("reconnecting") }

func (e *logEvents) OnRoomState(r9k, slow, subsOnly bool) {
	e.logger.Info("room state",
		slog.Bool("r9k", r9k),
		slog.Bool("slow", slow),
		slog.Bool("subs_only", subsOnly))
}

func (e *logEvents) OnCustomEmotesLoaded(channel, global []emote.Emote) {
	e.logger.Info("custom emotes loaded",
		slog.Int("channel", len(channel)),
		slog.Int("global", len(global)))
}

func (e *logEvents) OnEmoteSetsFetched(sets []string) {
	e.logger.Info("emote sets", slog.Any("sets", sets))
}
