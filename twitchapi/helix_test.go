package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func badgeTestClient(server *httptest.Server) *HelixClient {
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.SetToken("test-token", time.Now().Add(1*time.Hour))
	return &HelixClient{
		AppTokenSource: ts,
		ClientID:       "test-client-id",
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{
				Transport: http.DefaultTransport,
				host:      server.URL,
			},
		},
	}
}

func TestHelixClient_GlobalBadges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/chat/badges/global" {
			t.Errorf("path = %s, want /helix/chat/badges/global", r.URL.Path)
		}
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing or wrong Authorization header")
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{
					"set_id": "subscriber",
					"versions": []map[string]string{
						{"id": "12", "image_url_1x": "http://cdn/1x", "image_url_2x": "http://cdn/2x", "image_url_4x": "http://cdn/4x"},
					},
				},
			},
		})
	}))
	defer server.Close()

	sets, err := badgeTestClient(server).GlobalBadges(context.Background())
	if err != nil {
		t.Fatalf("GlobalBadges() error = %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("expected 1 badge set, got %d", len(sets))
	}
	if sets[0].SetID != "subscriber" {
		t.Errorf("set id = %q, want subscriber", sets[0].SetID)
	}
	if len(sets[0].Versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(sets[0].Versions))
	}
	v := sets[0].Versions[0]
	if v.ID != "12" {
		t.Errorf("version id = %q, want 12", v.ID)
	}
	if v.ImageURL[1] != "http://cdn/1x" || v.ImageURL[2] != "http://cdn/2x" || v.ImageURL[4] != "http://cdn/4x" {
		t.Errorf("image urls = %v", v.ImageURL)
	}
}

func TestHelixClient_ChannelBadges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/chat/badges" {
			t.Errorf("path = %s, want /helix/chat/badges", r.URL.Path)
		}
		if got := r.URL.Query().Get("broadcaster_id"); got != "12345" {
			t.Errorf("broadcaster_id = %q, want 12345", got)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{
					"set_id": "subscriber",
					"versions": []map[string]string{
						{"id": "0", "image_url_1x": "http://cdn/custom-1x", "image_url_2x": "http://cdn/custom-2x", "image_url_4x": "http://cdn/custom-4x"},
					},
				},
			},
		})
	}))
	defer server.Close()

	sets, err := badgeTestClient(server).ChannelBadges(context.Background(), "12345")
	if err != nil {
		t.Fatalf("ChannelBadges() error = %v", err)
	}
	if len(sets) != 1 || sets[0].SetID != "subscriber" {
		t.Fatalf("sets = %+v", sets)
	}
}

func TestHelixClient_ChannelBadgesEmptyID(t *testing.T) {
	client := &HelixClient{AppTokenSource: &TokenSource{}}
	_, err := client.ChannelBadges(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "broadcasterID empty") {
		t.Fatalf("error = %v, want broadcasterID empty", err)
	}
}

func TestHelixClient_BadgesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := badgeTestClient(server).GlobalBadges(context.Background())
	if err == nil {
		t.Fatal("GlobalBadges() error = nil, want error on 500")
	}
}

// rewriteTransport rewrites all requests to use the test server
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
