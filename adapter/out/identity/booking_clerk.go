// Package identity maps participant emails to calendar owners and their OAuth credentials.
package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
	"booking_worker/pkg/httputil"
)

// ClerkDirectory implements out.IdentityDirectory over the Clerk backend API.
type ClerkDirectory struct {
	baseURL   string
	secretKey string
	provider  string
	client    *http.Client
}

// NewClerkDirectory creates a directory. provider is the Clerk OAuth provider slug
// whose tokens are returned, "oauth_google" when empty.
func NewClerkDirectory(baseURL, secretKey, provider string, client *http.Client) *ClerkDirectory {
	if provider == "" {
		provider = "oauth_google"
	}
	return &ClerkDirectory{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		provider:  provider,
		client:    client,
	}
}

type clerkUser struct {
	ID string `json:"id"`
}

type clerkToken struct {
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expires_at"`
	Scopes    []string `json:"scopes"`
}

// FindUserByEmail returns the first Clerk user with the given email address.
func (d *ClerkDirectory) FindUserByEmail(ctx context.Context, email string) (string, bool, error) {
	q := url.Values{"email_address": {email}, "limit": {"1"}}
	var users []clerkUser
	if err := d.get(ctx, "/users?"+q.Encode(), &users); err != nil {
		return "", false, err
	}
	if len(users) == 0 || users[0].ID == "" {
		return "", false, nil
	}
	return users[0].ID, true, nil
}

// GetOAuthToken returns the user's current provider access token.
func (d *ClerkDirectory) GetOAuthToken(ctx context.Context, userID string) (*oauth2.Token, bool, error) {
	q := url.Values{"limit": {"10"}, "offset": {"0"}}
	path := fmt.Sprintf("/users/%s/oauth_access_tokens/%s?%s", url.PathEscape(userID), d.provider, q.Encode())

	var tokens []clerkToken
	if err := d.get(ctx, path, &tokens); err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(tokens) == 0 || tokens[0].Token == "" {
		return nil, false, nil
	}

	tok := &oauth2.Token{AccessToken: tokens[0].Token, TokenType: "Bearer"}
	if tokens[0].ExpiresAt > 0 {
		tok.Expiry = time.Unix(tokens[0].ExpiresAt, 0)
	}
	return tok, true, nil
}

func (d *ClerkDirectory) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequest(http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	req.Header.Set("Authorization", "Bearer "+d.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := httputil.DoWithContext(ctx, d.client, req)
	if err != nil {
		return apperr.ProviderError("identity", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound("identity resource")
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.ProviderError("identity", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return apperr.ProviderError("identity", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

var _ out.IdentityDirectory = (*ClerkDirectory)(nil)
