// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (e.g., authenticated chat), use ValidateAccountChat.
package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	// Channel
	TwitchChannel   string // channel login, without the leading '#'
	TwitchChannelID string // broadcaster id, used for channel badges and emotes

	// Replay: when set the session runs in replay mode against this video
	TwitchVODID string

	// Chat credentials. When UseAccountChat is false the engine logs in
	// anonymously (justinfan namespace) and cannot send messages.
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchRefreshToken string
	UseAccountChat     bool

	// Helix / GQL
	TwitchClientID     string
	TwitchClientSecret string

	// IRC transport
	ChatServer  string
	ChatPort    int
	ChatPortTLS int
	ChatUseTLS  bool

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds
// are missing; anonymous chat works without any. Use ValidateAccountChat when the caller
// has opted in to authenticated chat.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchChannelID = os.Getenv("TWITCH_CHANNEL_ID")
	cfg.TwitchVODID = os.Getenv("TWITCH_VOD_ID")

	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchRefreshToken = os.Getenv("TWITCH_REFRESH_TOKEN")
	cfg.UseAccountChat = os.Getenv("CHAT_USE_ACCOUNT") == "1"

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.ChatServer = os.Getenv("CHAT_SERVER")
	if cfg.ChatServer == "" {
		cfg.ChatServer = "irc.chat.twitch.tv"
	}

	var err error
	if cfg.ChatPort, err = portEnv("CHAT_PORT", 6667); err != nil {
		return nil, err
	}
	if cfg.ChatPortTLS, err = portEnv("CHAT_PORT_TLS", 6697); err != nil {
		return nil, err
	}

	// TLS by default; CHAT_TLS=0 opts out.
	cfg.ChatUseTLS = os.Getenv("CHAT_TLS") != "0"

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

func portEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	p, err := strconv.Atoi(v)
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return p, nil
}

// ValidateAccountChat checks required fields when authenticated chat is requested.
func (c *Config) ValidateAccountChat() error {
	if c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// ValidateChannel checks that a channel login is configured (required in live mode).
func (c *Config) ValidateChannel() error {
	if c.TwitchChannel == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL")
	}
	return nil
}
