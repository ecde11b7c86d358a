// Package claims turns raw provider claims into a normalized UserInfo record
// and applies configured mapping rules to account fields.
package claims

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stephane-berube/openid-connect/pkg/account"
	"github.com/stephane-berube/openid-connect/pkg/auth"
	"github.com/stephane-berube/openid-connect/pkg/hooks"
)

// UserInfo is the normalized claim record for an authenticated subject.
type UserInfo struct {
	// Subject is the provider's stable unique identifier ("sub").
	Subject string
	// Claims maps claim name to value as returned by the provider, after
	// alteration hooks have run.
	Claims map[string]any
}

// ErrMissingSubject indicates the provider returned claims without a usable
// "sub" identifier; nothing can be reconciled without one.
var ErrMissingSubject = errors.New("claims: userinfo has no sub")

// ClaimContext is handed to per-claim alteration hooks. Value is the
// designated output: hooks may rewrite it before it is written to the
// account. The remaining fields are read-only context.
type ClaimContext struct {
	Claim    string
	Property string
	Value    string
	Account  *account.Account
	Info     *UserInfo
}

// DefaultMappings is the claim-to-property mapping used when none is
// configured.
var DefaultMappings = map[string]string{
	"name":               "name",
	"email":              "email",
	"preferred_username": "preferred_username",
	"picture":            "picture",
	"locale":             "locale",
}

// DefaultSkip lists account properties never overwritten by claim mapping
// unless explicitly un-skipped by configuration. The login name is skipped so
// a provider cannot rename an existing account.
var DefaultSkip = []string{"preferred_username"}

// Mapper normalizes provider claims and applies them to accounts.
type Mapper struct {
	mappings map[string]string
	skip     map[string]bool
	logger   *zap.Logger

	// UserInfoAlter hooks run after fetching raw claims, before the subject
	// is extracted. Callbacks mutate the UserInfo in place.
	UserInfoAlter hooks.List[*UserInfo]
	// ClaimAlter hooks run once per mapped claim; callbacks may rewrite
	// ClaimContext.Value.
	ClaimAlter hooks.List[*ClaimContext]
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithMappings replaces the default claim-to-property mapping.
func WithMappings(m map[string]string) Option {
	return func(mp *Mapper) { mp.mappings = m }
}

// WithSkip replaces the default skip-list.
func WithSkip(properties []string) Option {
	return func(mp *Mapper) {
		mp.skip = make(map[string]bool, len(properties))
		for _, p := range properties {
			mp.skip[p] = true
		}
	}
}

// NewMapper creates a Mapper with the default mappings and skip-list unless
// overridden by options.
func NewMapper(logger *zap.Logger, opts ...Option) *Mapper {
	m := &Mapper{
		mappings: DefaultMappings,
		logger:   logger.Named("claims"),
	}
	m.skip = make(map[string]bool, len(DefaultSkip))
	for _, p := range DefaultSkip {
		m.skip[p] = true
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Normalize fetches the subject's claims through the provider client, runs
// the userinfo alteration hooks, and returns the normalized record. A missing
// sub is an error: no account work can proceed without it.
func (m *Mapper) Normalize(ctx context.Context, client auth.Client, tokens *auth.Tokens) (*UserInfo, error) {
	raw, err := client.FetchUserInfo(ctx, tokens)
	if err != nil {
		return nil, err
	}

	info := &UserInfo{Claims: raw}
	if err := m.UserInfoAlter.Invoke(ctx, info); err != nil {
		return nil, fmt.Errorf("userinfo alter hook: %w", err)
	}

	sub, _ := info.Claims["sub"].(string)
	if sub == "" {
		return nil, ErrMissingSubject
	}
	info.Subject = sub
	return info, nil
}

// ApplyToAccount writes each mapped claim onto the account, running the
// per-claim alteration hooks first. Skip-listed properties are left alone.
func (m *Mapper) ApplyToAccount(ctx context.Context, acct *account.Account, info *UserInfo) {
	for claim, property := range m.mappings {
		if m.skip[property] {
			continue
		}
		raw, ok := info.Claims[claim]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			value = fmt.Sprint(raw)
		}

		cc := &ClaimContext{Claim: claim, Property: property, Value: value, Account: acct, Info: info}
		if err := m.ClaimAlter.Invoke(ctx, cc); err != nil {
			m.logger.Warn("Claim alter hook rejected claim",
				zap.String("claim", claim), zap.Error(err))
			continue
		}
		acct.SetProperty(property, cc.Value)
	}
}
