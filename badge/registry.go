// Package badge resolves chat badges from three sources: provider-global
// tables, per-channel tables, and a third-party provider keyed by user login.
// Tables are populated once per session and read-only thereafter.
package badge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/onnwee/chatstream/telemetry"
	"github.com/onnwee/chatstream/twitchapi"
)

// Badge is one renderable badge. Immutable; shared by reference across all
// messages that use it for the lifetime of the session.
type Badge struct {
	Set      string
	URLs     map[int]string // scale factor -> image URL
	Color    string         // optional display color (third-party badges)
	Replaces string         // optional badge-set this one supersedes
}

// HelixSource provides the two provider badge tables.
type HelixSource interface {
	GlobalBadges(ctx context.Context) ([]twitchapi.BadgeSet, error)
	ChannelBadges(ctx context.Context, broadcasterID string) ([]twitchapi.BadgeSet, error)
}

// ProviderSource provides the third-party login-keyed badges.
type ProviderSource interface {
	AllBadges(ctx context.Context) ([]twitchapi.FFZBadge, error)
}

// Registry holds the three badge tables. Writes happen once during Load;
// concurrent reads are safe afterwards, and reads during load simply miss.
type Registry struct {
	mu      sync.RWMutex
	global  map[string]map[string]*Badge
	channel map[string]map[string]*Badge
	byLogin map[string][]*Badge
	logger  *slog.Logger
}

func NewRegistry() *Registry {
	telemetry.Init()
	return &Registry{
		global:  make(map[string]map[string]*Badge),
		channel: make(map[string]map[string]*Badge),
		byLogin: make(map[string][]*Badge),
		logger:  slog.Default().With(slog.String("component", "badges")),
	}
}

// Load populates all three tables. Each source is isolated: a failure in one is
// logged and counted but does not block the other two or message delivery.
func (r *Registry) Load(ctx context.Context, helix HelixSource, provider ProviderSource, channelID string) {
	if helix != nil {
		if sets, err := helix.GlobalBadges(ctx); err != nil {
			telemetry.BadgeLoadFailures.Inc()
			r.logger.Warn("global badge load failed", slog.Any("err", err))
		} else {
			r.storeSets(r.global, sets)
		}

		if channelID != "" {
			if sets, err := helix.ChannelBadges(ctx, channelID); err != nil {
				telemetry.BadgeLoadFailures.Inc()
				r.logger.Warn("channel badge load failed", slog.String("channel_id", channelID), slog.Any("err", err))
			} else {
				r.storeSets(r.channel, sets)
			}
		}
	}

	if provider != nil {
		if badges, err := provider.AllBadges(ctx); err != nil {
			telemetry.BadgeLoadFailures.Inc()
			r.logger.Warn("provider badge load failed", slog.Any("err", err))
		} else {
			r.storeProvider(badges)
		}
	}
}

func (r *Registry) storeSets(table map[string]map[string]*Badge, sets []twitchapi.BadgeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range sets {
		versions := make(map[string]*Badge, len(set.Versions))
		for _, v := range set.Versions {
			versions[v.ID] = &Badge{Set: set.SetID, URLs: v.ImageURL}
		}
		table[set.SetID] = versions
	}
}

func (r *Registry) storeProvider(badges []twitchapi.FFZBadge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range badges {
		badge := &Badge{Set: b.Name, URLs: b.URLs, Color: b.Color, Replaces: b.Replaces}
		for _, login := range b.Logins {
			r.byLogin[login] = append(r.byLogin[login], badge)
		}
	}
}

// Resolve looks up a (set, version) pair, channel table before global. A miss
// is logged; the message renders without that badge.
func (r *Registry) Resolve(set, version string) (*Badge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if versions, ok := r.channel[set]; ok {
		if b, ok := versions[version]; ok {
			return b, true
		}
	}
	if versions, ok := r.global[set]; ok {
		if b, ok := versions[version]; ok {
			return b, true
		}
	}
	r.logger.Debug("badge not found", slog.String("set", set), slog.String("version", version))
	return nil, false
}

// ForUser returns the third-party badges worn by a login, additive to the
// protocol-declared ones.
func (r *Registry) ForUser(login string) []*Badge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byLogin[login]
}
