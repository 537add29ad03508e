// Package auth implements the gateway's inbound HTTP boundary check: an
// optional shared-secret API key, or an optional JWT bearer token. Per the
// boundary contract, when auth is configured but no credential is present on
// the request, the check fails closed rather than open.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrAuthDisabled is returned when no API keys or JWT secret are
	// configured; callers should treat this as "auth not required".
	ErrAuthDisabled = errors.New("auth: disabled")
	// ErrMissingCredentials is returned when auth is enabled but the request
	// carries neither a bearer token nor an API key header. Per the fail-closed
	// boundary contract this maps to 503, not 401.
	ErrMissingCredentials = errors.New("auth: missing credentials")
	// ErrInvalidCredentials is returned when a presented credential is
	// malformed or does not match any configured key/secret.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Config configures the Authenticator.
type Config struct {
	// Header is the inbound header name carrying the shared-secret API key.
	// Defaults to "x-api-key".
	Header string
	// Keys is the set of accepted API keys. Empty disables API-key auth.
	Keys []string
	// JWTSecret, if set, enables bearer-token auth via HS256.
	JWTSecret string
}

// Identity is the caller identity recovered from a validated credential.
type Identity struct {
	Subject string
	Method  string // "apiKey" or "jwt"
}

// Authenticator enforces the shared-secret/JWT boundary check described by
// the gateway's auth config. A zero-value Authenticator (built from an empty
// Config) is always disabled.
type Authenticator struct {
	header string
	keys   map[string]struct{}
	jwt    *jwtService
}

// New builds an Authenticator from cfg.
func New(cfg Config) *Authenticator {
	header := cfg.Header
	if header == "" {
		header = "x-api-key"
	}
	a := &Authenticator{header: header, keys: map[string]struct{}{}}
	for _, k := range cfg.Keys {
		k = strings.TrimSpace(k)
		if k != "" {
			a.keys[k] = struct{}{}
		}
	}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		a.jwt = newJWTService(cfg.JWTSecret, 0)
	}
	return a
}

// Enabled reports whether any credential check is configured.
func (a *Authenticator) Enabled() bool {
	if a == nil {
		return false
	}
	return len(a.keys) > 0 || a.jwt != nil
}

// Authenticate validates the request's credential against the configured
// API keys and/or JWT secret. Health endpoints must not call this; the
// caller is expected to bypass auth for them entirely.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	if !a.Enabled() {
		return Identity{}, ErrAuthDisabled
	}

	if token := bearerToken(r); token != "" {
		if a.jwt == nil {
			return Identity{}, ErrInvalidCredentials
		}
		subject, err := a.jwt.validate(token)
		if err != nil {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{Subject: subject, Method: "jwt"}, nil
	}

	if key := strings.TrimSpace(r.Header.Get(a.header)); key != "" {
		if len(a.keys) == 0 {
			return Identity{}, ErrInvalidCredentials
		}
		if !a.matchesKey(key) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{Subject: key, Method: "apiKey"}, nil
	}

	return Identity{}, ErrMissingCredentials
}

// matchesKey compares key against every configured key in constant time, to
// avoid leaking which prefix matched via response timing.
func (a *Authenticator) matchesKey(key string) bool {
	matched := false
	for stored := range a.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(stored)) == 1 {
			matched = true
		}
	}
	return matched
}

func bearerToken(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if v == "" {
		return ""
	}
	const prefix = "bearer "
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}

// GenerateJWT issues a signed token for subject, for callers that mint
// tokens out-of-band (e.g. an admin CLI). Returns ErrAuthDisabled if no JWT
// secret is configured.
func (a *Authenticator) GenerateJWT(subject string, ttl time.Duration) (string, error) {
	if a == nil || a.jwt == nil {
		return "", ErrAuthDisabled
	}
	return a.jwt.generate(subject, ttl)
}
