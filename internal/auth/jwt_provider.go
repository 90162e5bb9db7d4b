package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentmold/gateway/pkg/contracts"
	"github.com/golang-jwt/jwt/v5"
)

// jwtClaims is the expected claim shape of a portal-issued bearer token.
type jwtClaims struct {
	jwt.RegisteredClaims
	CustomerID string   `json:"customer_id"`
	Role       string   `json:"role"`
	Groups     []string `json:"groups,omitempty"`
}

// PortalSecretResolver returns the HMAC signing secret for a given
// portal (issuer), so each customer portal can be issued tokens signed
// with its own secret without the gateway trusting a shared key.
type PortalSecretResolver func(issuer string) ([]byte, bool)

// RevocationChecker reports whether a token's JWT ID has been revoked
// (e.g. on refresh-token rotation or explicit logout).
type RevocationChecker func(jti string) bool

// JWTBearerProvider authenticates customer/user requests carrying an
// "Authorization: Bearer <jwt>" header.
type JWTBearerProvider struct {
	resolveSecret PortalSecretResolver
	isRevoked     RevocationChecker
	enabled       bool
}

// NewJWTBearerProvider builds a bearer-JWT auth provider. Passing a nil
// RevocationChecker disables revocation checking.
func NewJWTBearerProvider(resolveSecret PortalSecretResolver, isRevoked RevocationChecker) *JWTBearerProvider {
	if isRevoked == nil {
		isRevoked = func(string) bool { return false }
	}
	return &JWTBearerProvider{
		resolveSecret: resolveSecret,
		isRevoked:     isRevoked,
		enabled:       resolveSecret != nil,
	}
}

func (p *JWTBearerProvider) Name() string  { return "bearer_jwt" }
func (p *JWTBearerProvider) Enabled() bool { return p.enabled }

// Authenticate validates the bearer token and returns an Identity.
// Returns (nil, nil) when no bearer token is present.
func (p *JWTBearerProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	raw := extractBearerToken(r)
	if raw == "" {
		return nil, nil
	}

	var claims jwtClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		issuer, _ := t.Claims.GetIssuer()
		secret, ok := p.resolveSecret(issuer)
		if !ok {
			return nil, fmt.Errorf("unknown token issuer %q", issuer)
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("invalid bearer token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid bearer token")
	}
	if claims.ID != "" && p.isRevoked(claims.ID) {
		return nil, fmt.Errorf("bearer token revoked")
	}
	if claims.CustomerID == "" {
		return nil, fmt.Errorf("bearer token missing customer_id claim")
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &contracts.Identity{
		Subject:     claims.Subject,
		Provider:    "bearer_jwt",
		CustomerID:  claims.CustomerID,
		Role:        claims.Role,
		Groups:      claims.Groups,
		DisplayName: claims.Subject,
		ExpiresAt:   expiresAt,
	}, nil
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// staticSecretResolver is the simplest PortalSecretResolver: a fixed
// map of issuer -> secret, suitable for config-driven deployments with
// a small, known set of portals.
type staticSecretResolver struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewStaticSecretResolver builds a PortalSecretResolver backed by an
// in-memory map, seeded from the given issuer->secret pairs.
func NewStaticSecretResolver(secrets map[string]string) PortalSecretResolver {
	s := &staticSecretResolver{secrets: make(map[string][]byte, len(secrets))}
	for issuer, secret := range secrets {
		s.secrets[issuer] = []byte(secret)
	}
	return func(issuer string) ([]byte, bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		secret, ok := s.secrets[issuer]
		return secret, ok
	}
}
