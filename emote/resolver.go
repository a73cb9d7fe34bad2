// Package emote resolves inline emote spans from two sources: protocol-declared
// ranges (live mode) and text matches against a channel's custom-emote
// vocabulary (both modes). The vocabulary is loaded once per session.
package emote

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/onnwee/chatstream/twitchapi"
)

// Source tags where an emote came from.
type Source string

const (
	SourceTwitch Source = "twitch"
	SourceFFZ    Source = "ffz"
)

// Emote is an immutable inline emote value.
type Emote struct {
	Source Source
	ID     string
	Text   string
}

// Twitch builds a protocol-native emote.
func Twitch(text, id string) Emote { return Emote{Source: SourceTwitch, ID: id, Text: text} }

// FFZ builds a third-party custom emote.
func FFZ(text, id string) Emote { return Emote{Source: SourceFFZ, ID: id, Text: text} }

// ProviderSource supplies the custom-emote vocabularies.
type ProviderSource interface {
	GlobalEmotes(ctx context.Context) ([]twitchapi.FFZEmote, error)
	ChannelEmotes(ctx context.Context, channelID string) ([]twitchapi.FFZEmote, error)
}

// Resolver matches emotes in message text. The custom vocabulary is written
// once by LoadCustom and read thereafter; messages enriched before the load
// completes simply find no custom matches.
type Resolver struct {
	mu      sync.RWMutex
	channel []Emote
	global  []Emote
	byText  map[string]Emote
	logger  *slog.Logger
}

func NewResolver() *Resolver {
	return &Resolver{
		byText: make(map[string]Emote),
		logger: slog.Default().With(slog.String("component", "emotes")),
	}
}

// LoadCustom fetches the channel and global vocabularies. Failures are logged
// per source and leave that vocabulary empty. Returns the loaded lists so the
// caller can forward them to its callback surface.
func (r *Resolver) LoadCustom(ctx context.Context, src ProviderSource, channelID string) (channel, global []Emote) {
	if src == nil {
		return nil, nil
	}

	if channelID != "" {
		if emotes, err := src.ChannelEmotes(ctx, channelID); err != nil {
			r.logger.Warn("channel emote load failed", slog.String("channel_id", channelID), slog.Any("err", err))
		} else {
			channel = toEmotes(emotes)
		}
	}
	if emotes, err := src.GlobalEmotes(ctx); err != nil {
		r.logger.Warn("global emote load failed", slog.Any("err", err))
	} else {
		global = toEmotes(emotes)
	}

	r.mu.Lock()
	r.channel = channel
	r.global = global
	for _, e := range global {
		r.byText[e.Text] = e
	}
	// Channel emotes shadow global ones with the same text.
	for _, e := range channel {
		r.byText[e.Text] = e
	}
	r.mu.Unlock()
	return channel, global
}

// ChannelEmotes returns the loaded channel vocabulary (nil before load).
func (r *Resolver) ChannelEmotes() []Emote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// GlobalEmotes returns the loaded global vocabulary (nil before load).
func (r *Resolver) GlobalEmotes() []Emote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global
}

// FindTwitchEmotes parses a protocol emotes tag ("25:0-4,12-16/1902:6-10")
// into offset-keyed emotes. Offsets are rune positions into the message text.
func (r *Resolver) FindTwitchEmotes(tag, text string) map[int]Emote {
	out := make(map[int]Emote)
	if tag == "" {
		return out
	}
	runes := []rune(text)
	for _, entry := range strings.Split(tag, "/") {
		id, ranges, ok := strings.Cut(entry, ":")
		if !ok || id == "" {
			continue
		}
		for _, rng := range strings.Split(ranges, ",") {
			startStr, endStr, ok := strings.Cut(rng, "-")
			if !ok {
				continue
			}
			start, err1 := strconv.Atoi(startStr)
			end, err2 := strconv.Atoi(endStr)
			if err1 != nil || err2 != nil || start < 0 || end < start || end >= len(runes) {
				continue
			}
			out[start] = Twitch(string(runes[start:end+1]), id)
		}
	}
	return out
}

// FindCustomEmotes matches whitespace-delimited tokens of text against the
// loaded vocabulary, keyed by the token's rune offset.
func (r *Resolver) FindCustomEmotes(text string) map[int]Emote {
	out := make(map[int]Emote)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.byText) == 0 {
		return out
	}

	offset := 0
	for _, tok := range strings.Split(text, " ") {
		if e, ok := r.byText[tok]; ok {
			out[offset] = e
		}
		offset += len([]rune(tok)) + 1
	}
	return out
}

// Enrich merges custom matches into native, filling only offsets the native
// ranges have not claimed.
func (r *Resolver) Enrich(native map[int]Emote, text string) map[int]Emote {
	out := make(map[int]Emote, len(native))
	for off, e := range native {
		out[off] = e
	}
	for off, e := range r.FindCustomEmotes(text) {
		if _, claimed := out[off]; !claimed {
			out[off] = e
		}
	}
	return out
}

func toEmotes(in []twitchapi.FFZEmote) []Emote {
	out := make([]Emote, 0, len(in))
	for _, e := range in {
		out = append(out, FFZ(e.Name, e.ID))
	}
	return out
}
