package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pearlgate/gateway/internal/auth"
	"github.com/pearlgate/gateway/pkg/models"
)

func TestBuildFromAccountsDedupesByProvider(t *testing.T) {
	accts := []*models.Account{
		{ID: "a1", Provider: "anthropic", Credential: "key-1"},
		{ID: "a2", Provider: "anthropic", Credential: "key-2"},
		{ID: "a3", Provider: "openai", Credential: "key-3"},
	}
	built, err := BuildFromAccounts(context.Background(), accts, auth.NewTokenRefresher())
	if err != nil {
		t.Fatalf("BuildFromAccounts: %v", err)
	}
	if len(built) != 2 {
		t.Fatalf("expected 2 distinct providers, got %d", len(built))
	}
	names := map[string]bool{}
	for _, p := range built {
		names[p.Name()] = true
	}
	if !names["anthropic"] || !names["openai"] {
		t.Fatalf("expected anthropic and openai, got %+v", names)
	}
}

func TestBuildFromAccountsRejectsUnsupportedProvider(t *testing.T) {
	accts := []*models.Account{{ID: "a1", Provider: "unknown-llm"}}
	if _, err := BuildFromAccounts(context.Background(), accts, auth.NewTokenRefresher()); err == nil {
		t.Fatal("expected an error for an unsupported provider")
	}
}

func TestBuildFromAccountsExchangesOAuthRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-xyz","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	accts := []*models.Account{{
		ID: "a1", Provider: "anthropic", Auth: models.AuthOAuth,
		Credential: "refresh-abc", TokenURL: server.URL, ClientID: "c", ClientSecret: "s",
	}}

	built, err := BuildFromAccounts(context.Background(), accts, auth.NewTokenRefresher())
	if err != nil {
		t.Fatalf("BuildFromAccounts: %v", err)
	}
	if len(built) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(built))
	}
}

func TestBuildFromAccountsRejectsOAuthAccountMissingTokenURL(t *testing.T) {
	accts := []*models.Account{{ID: "a1", Provider: "anthropic", Auth: models.AuthOAuth, Credential: "refresh-abc"}}
	if _, err := BuildFromAccounts(context.Background(), accts, auth.NewTokenRefresher()); err == nil {
		t.Fatal("expected an error for an oauth account missing tokenUrl")
	}
}
