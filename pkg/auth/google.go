package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ===== Google OAuth =====

// googleUserInfoURL is Google's OpenID Connect userinfo endpoint. Unlike the
// older v2 endpoint it returns the stable "sub" identifier directly.
const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleClient implements Client for Google sign-in using golang.org/x/oauth2.
type GoogleClient struct {
	config *oauth2.Config
	logger *zap.Logger
}

// NewGoogleClient creates a Google client with the standard "openid",
// "email", and "profile" scopes.
func NewGoogleClient(clientID, clientSecret, redirectURL string, logger *zap.Logger) (*GoogleClient, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("google OAuth client ID and secret are required")
	}
	return &GoogleClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		logger: logger.Named("google"),
	}, nil
}

func (g *GoogleClient) Name() string { return "google" }

// AuthURL generates the URL to redirect the user to for Google authentication.
// Requests offline access to potentially receive a refresh token.
func (g *GoogleClient) AuthURL(ctx context.Context, state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode exchanges the authorization code received on the callback for
// an OAuth token. Single attempt, bounded timeout.
func (g *GoogleClient) ExchangeCode(ctx context.Context, code string) (*Tokens, error) {
	if code == "" {
		return nil, ErrInvalidOAuthCode
	}
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		g.logger.Error("Failed to exchange code for token", zap.Error(err))
		return nil, ErrFailedToExchangeCode
	}
	if !token.Valid() {
		g.logger.Error("Received invalid token")
		return nil, ErrFailedToExchangeCode
	}

	idToken, _ := token.Extra("id_token").(string)
	return &Tokens{
		AccessToken:  token.AccessToken,
		IDToken:      idToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

// FetchUserInfo retrieves the user's claims from Google's userinfo endpoint.
func (g *GoogleClient) FetchUserInfo(ctx context.Context, tokens *Tokens) (map[string]any, error) {
	client := g.config.Client(ctx, &oauth2.Token{AccessToken: tokens.AccessToken})
	client.Timeout = 10 * time.Second

	resp, err := client.Get(googleUserInfoURL)
	if err != nil {
		g.logger.Error("Failed to request user info", zap.Error(err))
		return nil, ErrFailedToGetUserInfo
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		g.logger.Error("Failed to get user info, non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", string(bodyBytes)))
		return nil, ErrFailedToGetUserInfo
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		g.logger.Error("Failed to decode user info response", zap.Error(err))
		return nil, ErrFailedToGetUserInfo
	}
	if sub, _ := claims["sub"].(string); sub == "" {
		g.logger.Error("Userinfo response missing sub claim")
		return nil, ErrFailedToGetUserInfo
	}
	return claims, nil
}
