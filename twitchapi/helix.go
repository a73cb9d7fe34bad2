// Package twitchapi contains minimal clients for the remote services the chat
// engine depends on: Helix chat-badge endpoints (app access token), the GQL
// persisted query used for VOD comment pagination, and the FrankerFaceZ badge
// and emote endpoints.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// HelixClient provides the chat badge lookups needed at session start.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

// BadgeVersion is one renderable version of a badge set, keyed by scale factor.
type BadgeVersion struct {
	ID       string
	ImageURL map[int]string // 1x/2x/4x
}

// BadgeSet groups the versions of one badge set id.
type BadgeSet struct {
	SetID    string
	Versions []BadgeVersion
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GlobalBadges fetches the provider-global badge tables.
func (hc *HelixClient) GlobalBadges(ctx context.Context) ([]BadgeSet, error) {
	return hc.badges(ctx, "https://api.twitch.tv/helix/chat/badges/global", "")
}

// ChannelBadges fetches the per-channel badge tables for a broadcaster id.
func (hc *HelixClient) ChannelBadges(ctx context.Context, broadcasterID string) ([]BadgeSet, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	return hc.badges(ctx, "https://api.twitch.tv/helix/chat/badges", broadcasterID)
}

func (hc *HelixClient) badges(ctx context.Context, endpoint, broadcasterID string) ([]BadgeSet, error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if broadcasterID != "" {
		q := req.URL.Query()
		q.Set("broadcaster_id", broadcasterID)
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("badge request failed: %s", resp.Status)
	}
	var body struct {
		Data []struct {
			SetID    string `json:"set_id"`
			Versions []struct {
				ID         string `json:"id"`
				ImageURL1x string `json:"image_url_1x"`
				ImageURL2x string `json:"image_url_2x"`
				ImageURL4x string `json:"image_url_4x"`
			} `json:"versions"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	out := make([]BadgeSet, 0, len(body.Data))
	for _, set := range body.Data {
		bs := BadgeSet{SetID: set.SetID}
		for _, v := range set.Versions {
			bs.Versions = append(bs.Versions, BadgeVersion{
				ID: v.ID,
				ImageURL: map[int]string{
					1: v.ImageURL1x,
					2: v.ImageURL2x,
					4: v.ImageURL4x,
				},
			})
		}
		out = append(out, bs)
	}
	return out, nil
}
