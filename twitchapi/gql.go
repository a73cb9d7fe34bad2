package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Persisted query used by the web client for VOD chat replay.
const (
	commentsOperation = "VideoCommentsByOffsetOrCursor"
	commentsQueryHash = "b70a3591ff0f4e0313d126c6a1502d79a1c02baebb288227c582044aa76adf6a"

	// Public web client id, required by the GQL endpoint.
	defaultGQLClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"

	gqlEndpoint = "https://gql.twitch.tv/gql"
)

// GQLClient issues the persisted comment pagination query.
type GQLClient struct {
	ClientID   string
	HTTPClient *http.Client
	Endpoint   string // override for tests; defaults to the public endpoint
}

// CommentsPage is one page of historical comments. NullComments marks a
// response whose video.comments object was null (cursor expired or invalid);
// the synchronizer resets its cursor and retries.
type CommentsPage struct {
	Edges           []CommentEdge
	HasNextPage     bool
	HasPreviousPage bool
	NullComments    bool
}

type CommentEdge struct {
	Cursor string
	Node   CommentNode
}

// CommentNode is the raw provider payload needed to build a chat message.
type CommentNode struct {
	ContentOffsetSeconds float64        `json:"contentOffsetSeconds"`
	Commenter            *Commenter     `json:"commenter"`
	Message              CommentMessage `json:"message"`
}

type Commenter struct {
	DisplayName string `json:"displayName"`
}

type CommentMessage struct {
	Fragments  []CommentFragment `json:"fragments"`
	UserBadges []CommentBadge    `json:"userBadges"`
	UserColor  string            `json:"userColor"`
}

// CommentFragment is one inline run of text, optionally backed by an emote.
type CommentFragment struct {
	Text  string `json:"text"`
	Emote *struct {
		EmoteID string `json:"emoteID"`
	} `json:"emote"`
}

type CommentBadge struct {
	SetID   string `json:"setID"`
	Version string `json:"version"`
}

// VideoComments fetches one page of comments for a video. Exactly one of
// offsetSeconds and cursor is used: a non-empty cursor wins; otherwise the
// request paginates by content offset.
func (c *GQLClient) VideoComments(ctx context.Context, videoID string, offsetSeconds int, cursor string) (*CommentsPage, error) {
	variables := map[string]any{"videoID": videoID}
	if cursor != "" {
		variables["cursor"] = cursor
	} else {
		variables["contentOffsetSeconds"] = offsetSeconds
	}

	payload := map[string]any{
		"operationName": commentsOperation,
		"variables":     variables,
		"extensions": map[string]any{
			"persistedQuery": map[string]any{
				"version":    1,
				"sha256Hash": commentsQueryHash,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = gqlEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	clientID := c.ClientID
	if clientID == "" {
		clientID = defaultGQLClientID
	}
	req.Header.Set("Client-ID", clientID)
	req.Header.Set("Content-Type", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gql request failed: %s", resp.Status)
	}

	var raw struct {
		Data struct {
			Video struct {
				Comments *struct {
					Edges []struct {
						Node   CommentNode `json:"node"`
						Cursor string      `json:"cursor"`
					} `json:"edges"`
					PageInfo struct {
						HasNextPage     bool `json:"hasNextPage"`
						HasPreviousPage bool `json:"hasPreviousPage"`
					} `json:"pageInfo"`
				} `json:"comments"`
			} `json:"video"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	if raw.Data.Video.Comments == nil {
		return &CommentsPage{NullComments: true}, nil
	}

	page := &CommentsPage{
		HasNextPage:     raw.Data.Video.Comments.PageInfo.HasNextPage,
		HasPreviousPage: raw.Data.Video.Comments.PageInfo.HasPreviousPage,
	}
	for _, e := range raw.Data.Video.Comments.Edges {
		page.Edges = append(page.Edges, CommentEdge{Cursor: e.Cursor, Node: e.Node})
	}
	return page, nil
}
