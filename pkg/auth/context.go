// Package auth authenticates callers of the gateway's HTTP endpoints with
// static API keys or HS256 bearer tokens.
package auth

import "context"

type contextKey int

const (
	identityKey contextKey = iota
	tokenKey
)

// Identity describes an authenticated caller.
type Identity struct {
	Subject string   `json:"subject"`
	Name    string   `json:"name,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Method  string   `json:"method"` // "apikey", "jwt" or "anonymous"
}

// HasRole checks if the identity carries role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithIdentity adds an identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom retrieves the identity from the context.
func IdentityFrom(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey).(*Identity); ok {
		return id
	}
	return nil
}

// WithToken adds a raw credential to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// GetToken retrieves the raw credential from the context.
func GetToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}
