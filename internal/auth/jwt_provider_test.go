package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentmold/gateway/internal/auth"
	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte, issuer, customerID, role string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":         issuer,
		"sub":         "user-1",
		"customer_id": customerID,
		"role":        role,
		"exp":         expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func TestJWTBearerProvider_AuthenticatesValidToken(t *testing.T) {
	secret := []byte("portal-secret")
	resolver := auth.NewStaticSecretResolver(map[string]string{"agentmold-portal": string(secret)})
	provider := auth.NewJWTBearerProvider(resolver, nil)

	tok := signToken(t, secret, "agentmold-portal", "cust-1", "customer_operator", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	identity, err := provider.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if identity == nil {
		t.Fatal("Authenticate() identity = nil, want authenticated identity")
	}
	if identity.CustomerID != "cust-1" || identity.Role != "customer_operator" {
		t.Errorf("Authenticate() identity = %+v, unexpected fields", identity)
	}
}

func TestJWTBearerProvider_NoTokenReturnsNilNil(t *testing.T) {
	resolver := auth.NewStaticSecretResolver(map[string]string{"agentmold-portal": "secret"})
	provider := auth.NewJWTBearerProvider(resolver, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	identity, err := provider.Authenticate(req.Context(), req)
	if identity != nil || err != nil {
		t.Errorf("Authenticate() = (%v, %v), want (nil, nil) when no bearer token present", identity, err)
	}
}

func TestJWTBearerProvider_UnknownIssuerRejected(t *testing.T) {
	resolver := auth.NewStaticSecretResolver(map[string]string{"agentmold-portal": "secret"})
	provider := auth.NewJWTBearerProvider(resolver, nil)

	tok := signToken(t, []byte("other-secret"), "untrusted-portal", "cust-1", "customer_operator", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	if _, err := provider.Authenticate(req.Context(), req); err == nil {
		t.Error("Authenticate() error = nil, want error for unknown issuer")
	}
}

func TestJWTBearerProvider_ExpiredTokenRejected(t *testing.T) {
	secret := []byte("portal-secret")
	resolver := auth.NewStaticSecretResolver(map[string]string{"agentmold-portal": string(secret)})
	provider := auth.NewJWTBearerProvider(resolver, nil)

	tok := signToken(t, secret, "agentmold-portal", "cust-1", "customer_operator", time.Now().Add(-time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	if _, err := provider.Authenticate(req.Context(), req); err == nil {
		t.Error("Authenticate() error = nil, want error for expired token")
	}
}

func TestJWTBearerProvider_RevokedTokenRejected(t *testing.T) {
	secret := []byte("portal-secret")
	resolver := auth.NewStaticSecretResolver(map[string]string{"agentmold-portal": string(secret)})
	provider := auth.NewJWTBearerProvider(resolver, func(jti string) bool { return true })

	claims := jwt.MapClaims{
		"iss": "agentmold-portal", "sub": "user-1", "customer_id": "cust-1", "role": "customer_operator",
		"exp": time.Now().Add(time.Hour).Unix(), "jti": "revoked-id",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString(secret)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	if _, err := provider.Authenticate(req.Context(), req); err == nil {
		t.Error("Authenticate() error = nil, want error for revoked jti")
	}
}

func TestProviderChain_WalksUntilIdentityOrRejectsOnError(t *testing.T) {
	secret := []byte("portal-secret")
	resolver := auth.NewStaticSecretResolver(map[string]string{"agentmold-portal": string(secret)})
	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.NewJWTBearerProvider(resolver, nil))

	tok := signToken(t, secret, "agentmold-portal", "cust-1", "customer_admin", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	identity, err := chain.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if identity == nil || identity.CustomerID != "cust-1" {
		t.Errorf("Authenticate() = %+v, want identity for cust-1", identity)
	}

	unauth := httptest.NewRequest(http.MethodGet, "/", nil)
	identity, err = chain.Authenticate(unauth.Context(), unauth)
	if identity != nil || err != nil {
		t.Errorf("Authenticate() with no credentials = (%v, %v), want (nil, nil)", identity, err)
	}
}
