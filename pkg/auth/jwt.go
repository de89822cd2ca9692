package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the bearer token authenticator.
type JWTConfig struct {
	// Issuer is the expected iss claim. Empty accepts any issuer.
	Issuer string `yaml:"issuer"`

	// SigningKey is the HMAC key used to verify signatures.
	SigningKey string `yaml:"signing_key"`
}

// JWTAuthenticator validates HS256 bearer tokens.
type JWTAuthenticator struct {
	issuer string
	key    []byte
}

// NewJWTAuthenticator creates a new JWT authenticator.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("jwt signing key is required")
	}
	return &JWTAuthenticator{issuer: cfg.Issuer, key: []byte(cfg.SigningKey)}, nil
}

// tokenClaims are the claims read from a bearer token.
type tokenClaims struct {
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Authenticate validates the bearer token in ctx.
func (a *JWTAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, errors.New("no token found in context")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims tokenClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("missing sub claim")
	}

	return &Identity{
		Subject: claims.Subject,
		Name:    claims.Name,
		Roles:   claims.Roles,
		Method:  "jwt",
	}, nil
}

var _ Authenticator = (*JWTAuthenticator)(nil)
