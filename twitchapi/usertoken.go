package twitchapi

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// UserTokenSource keeps the chat user's OAuth token fresh from a refresh token.
// The access token it yields goes into the IRC PASS line for authenticated chat.
type UserTokenSource struct {
	ts oauth2.TokenSource
}

// NewUserTokenSource builds a refreshing token source against the Twitch OAuth
// endpoint. accessToken may be empty; the first use will refresh.
func NewUserTokenSource(ctx context.Context, clientID, clientSecret, accessToken, refreshToken string) *UserTokenSource {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     twitch.Endpoint,
	}
	seed := &oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken}
	return &UserTokenSource{ts: cfg.TokenSource(ctx, seed)}
}

// AccessToken returns a valid access token, refreshing when expired.
func (u *UserTokenSource) AccessToken() (string, error) {
	tok, err := u.ts.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
