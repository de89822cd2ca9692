package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Authenticator resolves the credential carried in ctx to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Identity, error)
}

// Chain tries multiple authenticators in order.
type Chain struct {
	authenticators []Authenticator
	allowAnonymous bool
}

// NewChain creates a chained authenticator. With allowAnonymous, callers
// that fail every authenticator are admitted as "anonymous".
func NewChain(allowAnonymous bool, authenticators ...Authenticator) *Chain {
	return &Chain{authenticators: authenticators, allowAnonymous: allowAnonymous}
}

// Authenticate tries each authenticator in order.
func (c *Chain) Authenticate(ctx context.Context) (*Identity, error) {
	var lastErr error
	for _, a := range c.authenticators {
		id, err := a.Authenticate(ctx)
		if err == nil && id != nil {
			return id, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	if c.allowAnonymous {
		return &Identity{Subject: "anonymous", Method: "anonymous"}, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("authentication failed")
}

var _ Authenticator = (*Chain)(nil)

// ExtractToken reads a Bearer token, falling back to the X-API-Key header.
func ExtractToken(r *http.Request) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return r.Header.Get("X-API-Key")
}

// Middleware authenticates every request with authn. Failures get 401 with
// a WWW-Authenticate challenge; success stores the identity in the context.
func Middleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if token := ExtractToken(r); token != "" {
				ctx = WithToken(ctx, token)
			}

			id, err := authn.Authenticate(ctx)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

// RequireRole rejects authenticated callers lacking role with 403. It must
// run inside Middleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			if id == nil || !id.HasRole(role) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
