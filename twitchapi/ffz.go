package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// FFZClient talks to the FrankerFaceZ API for third-party badges and custom
// emotes. No authentication required.
type FFZClient struct {
	HTTPClient *http.Client
	BaseURL    string // override for tests; defaults to the public API
}

// FFZBadge is one third-party badge together with the logins that wear it.
type FFZBadge struct {
	Name     string
	URLs     map[int]string
	Color    string
	Replaces string
	Logins   []string
}

// FFZEmote is one custom emote, matched against message text by name.
type FFZEmote struct {
	ID   string
	Name string
}

func (c *FFZClient) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://api.frankerfacez.com"
}

func (c *FFZClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *FFZClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ffz request %s failed: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AllBadges fetches every third-party badge and its wearers.
func (c *FFZClient) AllBadges(ctx context.Context) ([]FFZBadge, error) {
	var raw struct {
		Badges []struct {
			ID       json.Number       `json:"id"`
			Name     string            `json:"name"`
			URLs     map[string]string `json:"urls"`
			Color    string            `json:"color"`
			Replaces string            `json:"replaces"`
		} `json:"badges"`
		Users map[string][]string `json:"users"`
	}
	if err := c.get(ctx, "/v1/badges", &raw); err != nil {
		return nil, err
	}
	out := make([]FFZBadge, 0, len(raw.Badges))
	for _, b := range raw.Badges {
		badge := FFZBadge{
			Name:     b.Name,
			URLs:     scaleURLs(b.URLs),
			Color:    b.Color,
			Replaces: b.Replaces,
			Logins:   raw.Users[b.ID.String()],
		}
		out = append(out, badge)
	}
	return out, nil
}

// GlobalEmotes fetches the globally available custom-emote vocabulary.
func (c *FFZClient) GlobalEmotes(ctx context.Context) ([]FFZEmote, error) {
	var raw struct {
		DefaultSets []json.Number     `json:"default_sets"`
		Sets        map[string]ffzSet `json:"sets"`
	}
	if err := c.get(ctx, "/v1/set/global", &raw); err != nil {
		return nil, err
	}
	var out []FFZEmote
	for _, setID := range raw.DefaultSets {
		if set, ok := raw.Sets[setID.String()]; ok {
			out = append(out, set.emotes()...)
		}
	}
	return out, nil
}

// ChannelEmotes fetches a channel's custom-emote vocabulary by broadcaster id.
func (c *FFZClient) ChannelEmotes(ctx context.Context, channelID string) ([]FFZEmote, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channelID empty")
	}
	var raw struct {
		Sets map[string]ffzSet `json:"sets"`
	}
	if err := c.get(ctx, "/v1/room/id/"+channelID, &raw); err != nil {
		return nil, err
	}
	var out []FFZEmote
	for _, set := range raw.Sets {
		out = append(out, set.emotes()...)
	}
	return out, nil
}

type ffzSet struct {
	Emoticons []struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"emoticons"`
}

func (s ffzSet) emotes() []FFZEmote {
	out := make([]FFZEmote, 0, len(s.Emoticons))
	for _, e := range s.Emoticons {
		out = append(out, FFZEmote{ID: e.ID.String(), Name: e.Name})
	}
	return out
}

func scaleURLs(in map[string]string) map[int]string {
	out := make(map[int]string, len(in))
	for k, v := range in {
		scale, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[scale] = v
	}
	return out
}
