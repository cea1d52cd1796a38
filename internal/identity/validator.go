package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Claims carries the subset of JWT claims the control plane derives
// identity from when a bearer token is presented instead of the raw shared
// operator secret.
type Claims struct {
	Scope string `json:"scope"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the claims carry the "admin" scope.
func (c *Claims) IsAdmin() bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == "admin" {
			return true
		}
	}
	return false
}

// TokenValidator verifies a bearer token and extracts its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Validator verifies JWTs against a JWKS endpoint, caching and refreshing
// keys in the background.
type Validator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience []string
}

// NewValidator registers the JWKS endpoint for domain with a background
// refresh cache and returns a Validator backed by it.
func NewValidator(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*Validator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("parse issuer url: %w", err)
	}

	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)
	opts := append([]jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}, regOpts...)
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch initial jwks: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("get keys from cache: %w", err)
		}
		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}
		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("get raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &Validator{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: []string{audience},
	}, nil
}

// ValidateToken parses and verifies tokenString, returning its claims.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience[0]),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to cast claims")
	}
	return claims, nil
}

// SharedSecretValidator treats the raw operator secret as a single static
// credential, used when no JWKS issuer is configured. It satisfies
// TokenValidator so the control plane can accept either a bearer JWT or the
// shared secret uniformly.
type SharedSecretValidator struct {
	Secret string
}

func (s *SharedSecretValidator) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" || tokenString != s.Secret {
		return nil, errors.New("shared secret mismatch")
	}
	return &Claims{
		Scope:            "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "operator"},
	}, nil
}
