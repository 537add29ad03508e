package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthenticatorDisabledWhenUnconfigured(t *testing.T) {
	a := New(Config{})
	if a.Enabled() {
		t.Fatal("expected an empty config to be disabled")
	}
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	if _, err := a.Authenticate(r); err != ErrAuthDisabled {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
}

func TestAuthenticatorAcceptsConfiguredAPIKey(t *testing.T) {
	a := New(Config{Keys: []string{"secret-key"}})
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("x-api-key", "secret-key")

	id, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if id.Method != "apiKey" || id.Subject != "secret-key" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestAuthenticatorRejectsWrongAPIKey(t *testing.T) {
	a := New(Config{Keys: []string{"secret-key"}})
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("x-api-key", "wrong-key")

	if _, err := a.Authenticate(r); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticatorFailsClosedWhenCredentialMissing(t *testing.T) {
	a := New(Config{Keys: []string{"secret-key"}})
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	if _, err := a.Authenticate(r); err != ErrMissingCredentials {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestAuthenticatorUsesCustomHeader(t *testing.T) {
	a := New(Config{Header: "x-pearlgate-key", Keys: []string{"k1"}})
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("x-pearlgate-key", "k1")

	if _, err := a.Authenticate(r); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
}

func TestAuthenticatorValidatesJWTBearerToken(t *testing.T) {
	a := New(Config{JWTSecret: "shh"})
	token, err := a.GenerateJWT("agent-7", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	id, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if id.Method != "jwt" || id.Subject != "agent-7" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestAuthenticatorRejectsGarbageBearerToken(t *testing.T) {
	a := New(Config{JWTSecret: "shh"})
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("Authorization", "Bearer not-a-real-token")

	if _, err := a.Authenticate(r); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestMiddlewareBypassesConfiguredPaths(t *testing.T) {
	a := New(Config{Keys: []string{"k"}})
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	h := Middleware(a, map[string]bool{"/v1/health": true}, next)
	r := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if !called {
		t.Fatal("expected bypassed path to reach the handler")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMiddlewareFailsClosedWith503(t *testing.T) {
	a := New(Config{Keys: []string{"k"}})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run when credentials are missing")
	})

	h := Middleware(a, nil, next)
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMiddlewareRejectsInvalidKeyWith401(t *testing.T) {
	a := New(Config{Keys: []string{"k"}})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for an invalid key")
	})

	h := Middleware(a, nil, next)
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("x-api-key", "nope")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewarePassesThroughWhenDisabled(t *testing.T) {
	a := New(Config{})
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	h := Middleware(a, nil, next)
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if !called {
		t.Fatal("expected a disabled authenticator to pass requests through")
	}
}
