package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ===== Generic OpenID Connect =====

// discoveryDoc is the subset of the provider's well-known configuration this
// client needs.
type discoveryDoc struct {
	Issuer           string `json:"issuer"`
	AuthEndpoint     string `json:"authorization_endpoint"`
	TokenEndpoint    string `json:"token_endpoint"`
	UserInfoEndpoint string `json:"userinfo_endpoint"`
	JWKSURI          string `json:"jwks_uri"`
}

type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"` // base64url
	E   string `json:"e"` // base64url
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// OIDCClient implements Client for any spec-compliant OpenID Connect provider
// via its discovery document. The ID token is verified against the provider's
// JWKS; claims come from the userinfo endpoint when one is advertised, from
// the verified ID token otherwise.
type OIDCClient struct {
	name         string
	issuerURL    string
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       []string
	logger       *zap.Logger

	http  *http.Client
	mu    sync.RWMutex
	disc  *discoveryDoc
	discU time.Time

	jwks     *jwks
	jwksAt   time.Time
	jwksETag string
}

// NewOIDCClient creates a generic OIDC client for the given issuer.
// The discovery document is fetched lazily and cached for 24h.
func NewOIDCClient(name, issuerURL, clientID, clientSecret, redirectURL string, scopes []string, logger *zap.Logger) (*OIDCClient, error) {
	if name == "" || issuerURL == "" {
		return nil, errors.New("oidc provider name and issuer URL are required")
	}
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("oidc client ID and secret are required for %s", name)
	}
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &OIDCClient{
		name:         name,
		issuerURL:    strings.TrimRight(issuerURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		scopes:       scopes,
		logger:       logger.Named(name),
		http:         &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *OIDCClient) Name() string { return c.name }

func (c *OIDCClient) discovery(ctx context.Context) (*discoveryDoc, error) {
	c.mu.RLock()
	disc := c.disc
	stale := time.Since(c.discU) > 24*time.Hour
	c.mu.RUnlock()
	if disc != nil && !stale {
		return disc, nil
	}
	req, _ := http.NewRequestWithContext(ctx, "GET", c.issuerURL+"/.well-known/openid-configuration", nil)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var dd discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&dd); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.disc = &dd
	c.discU = time.Now()
	c.mu.Unlock()
	return &dd, nil
}

func (c *OIDCClient) getJWKS(ctx context.Context, uri string) (*jwks, error) {
	c.mu.RLock()
	j := c.jwks
	age := time.Since(c.jwksAt)
	c.mu.RUnlock()
	if j != nil && age < 1*time.Hour {
		return j, nil
	}

	req, _ := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if c.jwksETag != "" {
		req.Header.Set("If-None-Match", c.jwksETag)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		c.mu.Lock()
		out := c.jwks
		c.jwksAt = time.Now()
		c.mu.Unlock()
		return out, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("jwks http %d", resp.StatusCode)
	}
	var jj jwks
	if err := json.NewDecoder(resp.Body).Decode(&jj); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.jwks = &jj
	c.jwksAt = time.Now()
	c.jwksETag = resp.Header.Get("ETag")
	c.mu.Unlock()
	return &jj, nil
}

func (c *OIDCClient) rsaKeyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	disc, err := c.discovery(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := c.getJWKS(ctx, disc.JWKSURI)
	if err != nil {
		return nil, err
	}
	for _, k := range keys.Keys {
		if k.Kid == kid && strings.EqualFold(k.Kty, "RSA") {
			nb, err := base64.RawURLEncoding.DecodeString(k.N)
			if err != nil {
				return nil, err
			}
			eb, err := base64.RawURLEncoding.DecodeString(k.E)
			if err != nil {
				return nil, err
			}
			n := new(big.Int).SetBytes(nb)
			e := 65537
			if len(eb) > 0 {
				e = 0
				for _, b := range eb {
					e = (e << 8) | int(b)
				}
			}
			return &rsa.PublicKey{N: n, E: e}, nil
		}
	}
	return nil, errors.New("kid not found")
}

// AuthURL builds the authorization URL from the discovered endpoint.
func (c *OIDCClient) AuthURL(ctx context.Context, state string) string {
	cfg, err := c.oauthConfig(ctx)
	if err != nil {
		c.logger.Error("Failed to discover authorization endpoint", zap.Error(err))
		return ""
	}
	return cfg.AuthCodeURL(state)
}

// ExchangeCode exchanges the authorization code at the discovered token
// endpoint. Single attempt, bounded timeout.
func (c *OIDCClient) ExchangeCode(ctx context.Context, code string) (*Tokens, error) {
	if code == "" {
		return nil, ErrInvalidOAuthCode
	}
	cfg, err := c.oauthConfig(ctx)
	if err != nil {
		c.logger.Error("Failed to discover token endpoint", zap.Error(err))
		return nil, ErrFailedToExchangeCode
	}

	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		c.logger.Error("Failed to exchange code for token", zap.Error(err))
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

// FetchUserInfo returns the subject's claims. The ID token is always
// signature-verified first; when the provider advertises a userinfo endpoint
// its response is merged over the ID-token claims.
func (c *OIDCClient) FetchUserInfo(ctx context.Context, tokens *Tokens) (map[string]any, error) {
	if tokens.IDToken == "" {
		c.logger.Error("Provider returned no id_token")
		return nil, ErrFailedToGetUserInfo
	}
	claims, err := c.verifyIDToken(ctx, tokens.IDToken)
	if err != nil {
		c.logger.Error("ID token verification failed", zap.Error(err))
		return nil, ErrFailedToGetUserInfo
	}

	disc, err := c.discovery(ctx)
	if err == nil && disc.UserInfoEndpoint != "" {
		req, _ := http.NewRequestWithContext(ctx, "GET", disc.UserInfoEndpoint, nil)
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		resp, err := c.http.Do(req)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				var extra map[string]any
				if err := json.NewDecoder(resp.Body).Decode(&extra); err == nil {
					// The userinfo sub must match the verified token; a mismatch
					// means the response describes someone else.
					if s, _ := extra["sub"].(string); s == "" || s == claims["sub"] {
						for k, v := range extra {
							claims[k] = v
						}
					} else {
						c.logger.Warn("Userinfo sub mismatch, ignoring userinfo response",
							zap.String("token_sub", fmt.Sprint(claims["sub"])))
					}
				}
			}
		} else {
			c.logger.Warn("Userinfo request failed, using id_token claims", zap.Error(err))
		}
	}

	if sub, _ := claims["sub"].(string); sub == "" {
		return nil, ErrFailedToGetUserInfo
	}
	return claims, nil
}

// verifyIDToken validates signature, issuer, audience and expiry, returning
// the claims as a generic map.
func (c *OIDCClient) verifyIDToken(ctx context.Context, idToken string) (map[string]any, error) {
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, errors.New("bad jwt format")
	}
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(hb, &header); err != nil {
		return nil, err
	}
	if header.Alg != "RS256" {
		return nil, fmt.Errorf("unexpected alg: %s", header.Alg)
	}

	key, err := c.rsaKeyForKid(ctx, header.Kid)
	if err != nil {
		return nil, err
	}
	tok, err := jwtv5.Parse(idToken, func(t *jwtv5.Token) (any, error) { return key, nil },
		jwtv5.WithValidMethods([]string{"RS256"}))
	if err != nil || !tok.Valid {
		return nil, errors.New("invalid id_token")
	}

	mapClaims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, errors.New("claims type")
	}

	iss, _ := mapClaims["iss"].(string)
	if strings.TrimRight(iss, "/") != c.issuerURL {
		return nil, fmt.Errorf("bad iss: %s", iss)
	}
	audOK := false
	switch a := mapClaims["aud"].(type) {
	case string:
		audOK = a == c.clientID
	case []any:
		for _, v := range a {
			if s, _ := v.(string); s == c.clientID {
				audOK = true
				break
			}
		}
	}
	if !audOK {
		return nil, errors.New("bad aud")
	}
	if expf, ok := mapClaims["exp"].(float64); ok {
		if time.Unix(int64(expf), 0).Before(time.Now().Add(-30 * time.Second)) {
			return nil, errors.New("token expired")
		}
	}

	return map[string]any(mapClaims), nil
}

func (c *OIDCClient) oauthConfig(ctx context.Context) (*oauth2.Config, error) {
	disc, err := c.discovery(ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  c.redirectURL,
		Scopes:       c.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  disc.AuthEndpoint,
			TokenURL: disc.TokenEndpoint,
		},
	}, nil
}
