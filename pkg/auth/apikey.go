package auth

import (
	"context"
	"crypto/subtle"
	"errors"
)

// APIKey represents an API key entry.
type APIKey struct {
	Key   string   `yaml:"key"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// APIKeyAuthenticator authenticates using API keys.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates a new API key authenticator.
func NewAPIKeyAuthenticator(keys []APIKey) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys}
}

// Authenticate validates the API key in ctx.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, errors.New("no API key found in context")
	}

	var matched *APIKey
	for i := range a.keys {
		if subtle.ConstantTimeCompare([]byte(a.keys[i].Key), []byte(token)) == 1 && matched == nil {
			matched = &a.keys[i]
		}
	}
	if matched == nil {
		return nil, errors.New("invalid API key")
	}

	return &Identity{
		Subject: "apikey:" + matched.Name,
		Name:    matched.Name,
		Roles:   matched.Roles,
		Method:  "apikey",
	}, nil
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)
