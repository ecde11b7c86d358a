package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeIDP is an in-process OpenID Connect provider: discovery document, JWKS,
// token endpoint signing RS256 id_tokens, and a userinfo endpoint.
type fakeIDP struct {
	srv      *httptest.Server
	key      *rsa.PrivateKey
	aud      string
	userinfo map[string]any
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIDP{key: key, aud: "client-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 f.srv.URL,
			"authorization_endpoint": f.srv.URL + "/authorize",
			"token_endpoint":         f.srv.URL + "/token",
			"userinfo_endpoint":      f.srv.URL + "/userinfo",
			"jwks_uri":               f.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"alg": "RS256",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(f.key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(f.key.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "rt-1",
			"id_token":      f.signIDToken(),
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if f.userinfo == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(f.userinfo)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIDP) signIDToken() string {
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, jwtv5.MapClaims{
		"iss":   f.srv.URL,
		"aud":   f.aud,
		"sub":   "u123",
		"email": "token@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "k1"
	s, _ := tok.SignedString(f.key)
	return s
}

func (f *fakeIDP) newClient(t *testing.T) *OIDCClient {
	t.Helper()
	c, err := NewOIDCClient("corp", f.srv.URL, "client-1", "secret", f.srv.URL+"/cb", nil, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewOIDCClientValidation(t *testing.T) {
	_, err := NewOIDCClient("", "https://idp.example.com", "id", "secret", "", nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewOIDCClient("corp", "https://idp.example.com", "id", "", "", nil, zap.NewNop())
	assert.Error(t, err)
}

func TestOIDCAuthURL(t *testing.T) {
	f := newFakeIDP(t)
	c := f.newClient(t)

	u := c.AuthURL(context.Background(), "state-1")
	assert.Contains(t, u, f.srv.URL+"/authorize")
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "client_id=client-1")
}

func TestOIDCExchangeAndFetchUserInfo(t *testing.T) {
	ctx := context.Background()
	f := newFakeIDP(t)
	f.userinfo = map[string]any{"sub": "u123", "email": "fresh@example.com", "name": "Ada"}
	c := f.newClient(t)

	tokens, err := c.ExchangeCode(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tokens.AccessToken)
	assert.Equal(t, "rt-1", tokens.RefreshToken)
	require.NotEmpty(t, tokens.IDToken)

	claims, err := c.FetchUserInfo(ctx, tokens)
	require.NoError(t, err)
	assert.Equal(t, "u123", claims["sub"])
	// The userinfo response is merged over the id_token claims.
	assert.Equal(t, "fresh@example.com", claims["email"])
	assert.Equal(t, "Ada", claims["name"])
}

func TestOIDCUserInfoSubMismatchIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFakeIDP(t)
	f.userinfo = map[string]any{"sub": "someone-else", "email": "attacker@example.com"}
	c := f.newClient(t)

	tokens, err := c.ExchangeCode(ctx, "code-1")
	require.NoError(t, err)

	claims, err := c.FetchUserInfo(ctx, tokens)
	require.NoError(t, err)
	assert.Equal(t, "u123", claims["sub"])
	assert.Equal(t, "token@example.com", claims["email"], "a mismatched userinfo response must not be merged")
}

func TestOIDCRejectsWrongAudience(t *testing.T) {
	ctx := context.Background()
	f := newFakeIDP(t)
	f.aud = "some-other-client"
	c := f.newClient(t)

	tokens, err := c.ExchangeCode(ctx, "code-1")
	require.NoError(t, err)

	_, err = c.FetchUserInfo(ctx, tokens)
	assert.ErrorIs(t, err, ErrFailedToGetUserInfo)
}

func TestOIDCRejectsTamperedIDToken(t *testing.T) {
	ctx := context.Background()
	f := newFakeIDP(t)
	c := f.newClient(t)

	tokens, err := c.ExchangeCode(ctx, "code-1")
	require.NoError(t, err)
	tokens.IDToken += "x"

	_, err = c.FetchUserInfo(ctx, tokens)
	assert.ErrorIs(t, err, ErrFailedToGetUserInfo)
}

func TestOIDCMissingIDToken(t *testing.T) {
	f := newFakeIDP(t)
	c := f.newClient(t)

	_, err := c.FetchUserInfo(context.Background(), &Tokens{AccessToken: "at"})
	assert.ErrorIs(t, err, ErrFailedToGetUserInfo)
}

func TestOIDCEmptyCode(t *testing.T) {
	f := newFakeIDP(t)
	c := f.newClient(t)

	_, err := c.ExchangeCode(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidOAuthCode)
}

func TestOIDCExchangeFailure(t *testing.T) {
	f := newFakeIDP(t)
	c := f.newClient(t)
	f.srv.Close()

	_, err := c.ExchangeCode(context.Background(), "code-1")
	assert.ErrorIs(t, err, ErrFailedToExchangeCode)
}
