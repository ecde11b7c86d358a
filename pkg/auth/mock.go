package auth

import "context"

// MockClient is a configurable Client double for tests. Next* fields control
// the responses; Last* fields capture what the code under test passed in.
type MockClient struct {
	Provider string

	// NextTokens is returned by ExchangeCode unless NextExchangeErr is set.
	NextTokens      *Tokens
	NextExchangeErr error

	// NextClaims is returned by FetchUserInfo unless NextUserInfoErr is set.
	NextClaims      map[string]any
	NextUserInfoErr error

	// URL is returned by AuthURL.
	URL string

	LastState     string
	LastCode      string
	ExchangeCalls int
}

// NewMockClient creates a mock for the given provider id.
func NewMockClient(provider string) *MockClient {
	return &MockClient{
		Provider: provider,
		URL:      "https://idp.example.com/authorize",
	}
}

func (m *MockClient) Name() string { return m.Provider }

func (m *MockClient) AuthURL(ctx context.Context, state string) string {
	m.LastState = state
	return m.URL + "?state=" + state
}

func (m *MockClient) ExchangeCode(ctx context.Context, code string) (*Tokens, error) {
	m.LastCode = code
	m.ExchangeCalls++
	if m.NextExchangeErr != nil {
		return nil, m.NextExchangeErr
	}
	return m.NextTokens, nil
}

func (m *MockClient) FetchUserInfo(ctx context.Context, tokens *Tokens) (map[string]any, error) {
	if m.NextUserInfoErr != nil {
		return nil, m.NextUserInfoErr
	}
	return m.NextClaims, nil
}
