package auth

import (
	"context"
	"errors"
	"time"
)

// Tokens is the credential bundle returned by a provider's token endpoint.
// Beyond the ID token (which OIDC clients verify themselves), the bundle is
// opaque to the rest of the module: it is only handed to the claims mapper.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	IDToken      string    `json:"id_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Client is the capability implemented by every identity-provider client.
// Implementations must perform a single token-endpoint attempt with a bounded
// timeout; a replayed authorization code is rejected by the provider, so
// retrying blindly is unsafe.
type Client interface {
	// Name returns the provider identifier used for subject binding
	// (e.g. "google", "github").
	Name() string
	// AuthURL generates the provider-specific authorization URL for the given state.
	AuthURL(ctx context.Context, state string) string
	// ExchangeCode exchanges an authorization code for Tokens.
	ExchangeCode(ctx context.Context, code string) (*Tokens, error)
	// FetchUserInfo retrieves the raw claims for the authenticated subject.
	// The returned map always contains a "sub" key on success.
	FetchUserInfo(ctx context.Context, tokens *Tokens) (map[string]any, error)
}

// Predefined errors related to the OAuth process.
var (
	// ErrInvalidOAuthCode indicates that the provided authorization code is invalid or expired.
	ErrInvalidOAuthCode = errors.New("invalid oauth code")
	// ErrFailedToGetUserInfo indicates an error occurred while fetching user details from the provider.
	ErrFailedToGetUserInfo = errors.New("failed to get user info")
	// ErrFailedToExchangeCode indicates an error occurred during the token exchange process.
	ErrFailedToExchangeCode = errors.New("failed to exchange code for token")
	// ErrProviderNotFound indicates that no factory is registered for the requested provider id.
	ErrProviderNotFound = errors.New("oauth provider not registered")
)

// exchangeTimeout bounds the single token-endpoint attempt.
const exchangeTimeout = 10 * time.Second
