package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/pearlgate/gateway/pkg/models"
)

// TokenRefresher exchanges a backend account's stored OAuth refresh token
// (Account.Credential when Account.Auth == models.AuthOAuth) for a
// short-lived bearer access token, caching and auto-refreshing it per
// account via oauth2's reuse-token source.
type TokenRefresher struct {
	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewTokenRefresher builds an empty TokenRefresher. Per-account token
// sources are created lazily on first use, since each account may carry its
// own token endpoint and client credentials.
func NewTokenRefresher() *TokenRefresher {
	return &TokenRefresher{sources: make(map[string]oauth2.TokenSource)}
}

// AccessToken returns a valid bearer credential for acct. For AuthAPIKey
// accounts this is just acct.Credential. For AuthOAuth accounts it refreshes
// (and caches) a short-lived access token via the refresh-token grant,
// reusing the cached token until it is close to expiry.
func (r *TokenRefresher) AccessToken(ctx context.Context, acct *models.Account) (string, error) {
	if acct.Auth != models.AuthOAuth {
		return acct.Credential, nil
	}
	if acct.TokenURL == "" {
		return "", fmt.Errorf("auth: oauth account %q missing tokenUrl", acct.ID)
	}

	r.mu.Lock()
	src, ok := r.sources[acct.ID]
	if !ok {
		cfg := &oauth2.Config{
			ClientID:     acct.ClientID,
			ClientSecret: acct.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: acct.TokenURL},
		}
		src = cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: acct.Credential})
		r.sources[acct.ID] = src
	}
	r.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("auth: refresh oauth token for account %q: %w", acct.ID, err)
	}
	return tok.AccessToken, nil
}
