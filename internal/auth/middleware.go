package auth

import (
	"context"
	"net/http"
)

type identityKey struct{}

// WithIdentity returns a context carrying id, retrievable via IdentityFromContext.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the Identity attached by Middleware, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Middleware wraps next with the boundary auth check. Requests to any path
// in bypass skip the check entirely (health endpoints per the boundary
// contract). A disabled Authenticator is a no-op.
func Middleware(a *Authenticator, bypass map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bypass[r.URL.Path] || !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		id, err := a.Authenticate(r)
		switch err {
		case nil:
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		case ErrMissingCredentials:
			writeAuthError(w, http.StatusServiceUnavailable, "missing credentials")
		case ErrInvalidCredentials:
			writeAuthError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			writeAuthError(w, http.StatusUnauthorized, "authentication failed")
		}
	})
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	errType := "invalid_request_error"
	if status == http.StatusServiceUnavailable {
		errType = "auth_unavailable"
	}
	_, _ = w.Write([]byte(`{"error":{"message":"` + message + `","type":"` + errType + `"}}`))
}
