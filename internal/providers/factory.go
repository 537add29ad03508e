package providers

import (
	"context"
	"fmt"

	"github.com/pearlgate/gateway/internal/auth"
	"github.com/pearlgate/gateway/pkg/models"
)

// BuildFromAccounts constructs one Provider adapter per distinct
// account.Provider name found in accounts, using the first account seen for
// each provider to source its credential/base URL. OAuth-mode accounts
// (Auth == models.AuthOAuth) have their refresh token exchanged for a
// short-lived access token via refresher before the provider is built, so
// the provider never receives the raw refresh token as a bearer credential.
func BuildFromAccounts(ctx context.Context, accounts []*models.Account, refresher *auth.TokenRefresher) ([]Provider, error) {
	seen := make(map[string]bool)
	var out []Provider
	for _, acct := range accounts {
		if seen[acct.Provider] {
			continue
		}
		seen[acct.Provider] = true

		p, err := buildProvider(ctx, acct, refresher)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func buildProvider(ctx context.Context, acct *models.Account, refresher *auth.TokenRefresher) (Provider, error) {
	credential := acct.Credential
	if acct.Auth == models.AuthOAuth {
		token, err := refresher.AccessToken(ctx, acct)
		if err != nil {
			return nil, fmt.Errorf("providers: account %q: %w", acct.ID, err)
		}
		credential = token
	}

	switch acct.Provider {
	case "anthropic":
		return NewAnthropicProvider(credential, acct.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(credential, acct.BaseURL), nil
	case "ollama":
		return NewOllamaProvider(OllamaConfig{BaseURL: acct.BaseURL}), nil
	default:
		return nil, fmt.Errorf("providers: unsupported provider %q for account %q", acct.Provider, acct.ID)
	}
}
