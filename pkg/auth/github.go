package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// ===== GitHub OAuth =====

// gitHubUserInfo represents the user information returned by the GitHub API endpoint `/user`.
// See: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type gitHubUserInfo struct {
	ID        int    `json:"id"`         // The user's unique GitHub ID.
	Login     string `json:"login"`      // The user's GitHub username.
	Name      string `json:"name"`       // The user's display name (can be null).
	Email     string `json:"email"`      // The user's publicly visible email (can be null).
	AvatarURL string `json:"avatar_url"` // URL of the user's avatar.
}

// gitHubUserEmail represents an email address associated with a GitHub user,
// returned by the `/user/emails` endpoint.
type gitHubUserEmail struct {
	Email      string `json:"email"`
	Primary    bool   `json:"primary"`
	Verified   bool   `json:"verified"`
	Visibility string `json:"visibility"`
}

// GitHubClient implements Client for GitHub, which is plain OAuth2 (no ID
// token); claims are assembled from the REST API instead.
type GitHubClient struct {
	config *oauth2.Config
	logger *zap.Logger
}

// NewGitHubClient creates a GitHub client with the 'read:user' and
// 'user:email' scopes.
func NewGitHubClient(clientID, clientSecret, redirectURL string, logger *zap.Logger) (*GitHubClient, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("github OAuth client ID and secret are required")
	}
	return &GitHubClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"user:email", "read:user"},
			Endpoint:     github.Endpoint,
		},
		logger: logger.Named("github"),
	}, nil
}

func (g *GitHubClient) Name() string { return "github" }

// AuthURL generates the URL to redirect the user to for GitHub authentication.
func (g *GitHubClient) AuthURL(ctx context.Context, state string) string {
	return g.config.AuthCodeURL(state)
}

// ExchangeCode exchanges the authorization code for an access token.
func (g *GitHubClient) ExchangeCode(ctx context.Context, code string) (*Tokens, error) {
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
	return &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

// FetchUserInfo retrieves the user's profile and email addresses from the
// GitHub API and maps them onto OIDC-style claim names. The numeric GitHub id
// becomes the "sub" claim.
func (g *GitHubClient) FetchUserInfo(ctx context.Context, tokens *Tokens) (map[string]any, error) {
	client := g.config.Client(ctx, &oauth2.Token{AccessToken: tokens.AccessToken})
	client.Timeout = 10 * time.Second

	githubUser, err := fetchGitHubUserInfo(ctx, client)
	if err != nil {
		g.logger.Error("Failed to get GitHub user info", zap.Error(err))
		return nil, ErrFailedToGetUserInfo
	}

	// If email is not public in the main user info, try fetching from /user/emails
	if githubUser.Email == "" {
		emails, emailErr := fetchGitHubUserEmails(ctx, client)
		if emailErr == nil && len(emails) > 0 {
			githubUser.Email = selectPrimaryGitHubEmail(emails)
		} else if emailErr != nil {
			// Log the error but don't fail the whole process if email fetch fails
			g.logger.Warn("Failed to fetch GitHub user emails", zap.Error(emailErr))
		}
	}

	name := githubUser.Name
	if name == "" {
		name = githubUser.Login // Fallback to login name if display name is null.
	}

	return map[string]any{
		"sub":                strconv.Itoa(githubUser.ID),
		"name":               name,
		"preferred_username": githubUser.Login,
		"email":              githubUser.Email,
		"picture":            githubUser.AvatarURL,
	}, nil
}

// fetchGitHubUserInfo retrieves the authenticated user's profile information
// from the GitHub API (`/user`). It requires an authorized http.Client.
func fetchGitHubUserInfo(ctx context.Context, client *http.Client) (*gitHubUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", "https://api.github.com/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Add("Accept", "application/vnd.github.v3+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute user info request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get user info: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var userInfo gitHubUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode user info response: %w", err)
	}
	return &userInfo, nil
}

// fetchGitHubUserEmails retrieves the authenticated user's email addresses
// from the GitHub API (`/user/emails`). Requires the `user:email` scope.
func fetchGitHubUserEmails(ctx context.Context, client *http.Client) ([]gitHubUserEmail, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", "https://api.github.com/user/emails", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user emails request: %w", err)
	}
	req.Header.Add("Accept", "application/vnd.github.v3+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute user emails request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get user emails: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var emails []gitHubUserEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("failed to decode user emails response: %w", err)
	}
	return emails, nil
}

// selectPrimaryGitHubEmail selects the best available email address from a
// list of gitHubUserEmail. It prioritizes the primary verified email, then
// the first verified email, then the first email overall.
func selectPrimaryGitHubEmail(emails []gitHubUserEmail) string {
	primaryEmail := ""
	firstVerified := ""
	firstEmail := ""
	for _, e := range emails {
		if e.Primary && e.Verified {
			primaryEmail = e.Email
			break
		}
		if e.Verified && firstVerified == "" {
			firstVerified = e.Email
		}
		if firstEmail == "" {
			firstEmail = e.Email
		}
	}
	if primaryEmail != "" {
		return primaryEmail
	} else if firstVerified != "" {
		return firstVerified
	}
	return firstEmail
}
