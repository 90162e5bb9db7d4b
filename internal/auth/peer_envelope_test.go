package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentmold/gateway/internal/auth"
)

func TestPeerEnvelopeProvider_AuthenticatesValidToken(t *testing.T) {
	secret := "peer-secret"
	p := auth.NewPeerEnvelopeProvider(secret)
	if !p.Enabled() {
		t.Fatal("Enabled() = false, want true with non-empty secret")
	}

	tok, err := auth.GeneratePeerToken([]byte(secret), "skill-executor", "cust-1", "service", time.Hour)
	if err != nil {
		t.Fatalf("GeneratePeerToken() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Peer-Token", tok)

	identity, err := p.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if identity == nil {
		t.Fatal("Authenticate() identity = nil, want identity")
	}
	if identity.Subject != "svc:skill-executor" || identity.CustomerID != "cust-1" || identity.Role != "service" {
		t.Errorf("Authenticate() identity = %+v, unexpected fields", identity)
	}
}

func TestPeerEnvelopeProvider_NoTokenReturnsNilNil(t *testing.T) {
	p := auth.NewPeerEnvelopeProvider("peer-secret")
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	identity, err := p.Authenticate(req.Context(), req)
	if identity != nil || err != nil {
		t.Errorf("Authenticate() = (%v, %v), want (nil, nil) when no peer token present", identity, err)
	}
}

func TestPeerEnvelopeProvider_ExpiredTokenRejected(t *testing.T) {
	secret := "peer-secret"
	p := auth.NewPeerEnvelopeProvider(secret)

	tok, err := auth.GeneratePeerToken([]byte(secret), "skill-executor", "cust-1", "service", -time.Hour)
	if err != nil {
		t.Fatalf("GeneratePeerToken() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Peer-Token", tok)

	if _, err := p.Authenticate(req.Context(), req); err == nil {
		t.Error("Authenticate() error = nil, want error for expired peer token")
	}
}

func TestPeerEnvelopeProvider_MalformedTokenRejected(t *testing.T) {
	p := auth.NewPeerEnvelopeProvider("peer-secret")
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Peer-Token", "not-a-valid-token")

	if _, err := p.Authenticate(req.Context(), req); err == nil {
		t.Error("Authenticate() error = nil, want error for malformed token (no payload.signature split)")
	}
}

func TestPeerEnvelopeProvider_WrongSecretRejected(t *testing.T) {
	p := auth.NewPeerEnvelopeProvider("peer-secret")

	tok, err := auth.GeneratePeerToken([]byte("attacker-secret"), "skill-executor", "cust-1", "service", time.Hour)
	if err != nil {
		t.Fatalf("GeneratePeerToken() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Peer-Token", tok)

	if _, err := p.Authenticate(req.Context(), req); err == nil {
		t.Error("Authenticate() error = nil, want error for token signed with wrong secret")
	}
}

func TestPeerEnvelopeProvider_DisabledWithoutSecret(t *testing.T) {
	p := auth.NewPeerEnvelopeProvider("")
	if p.Enabled() {
		t.Error("Enabled() = true, want false when no secret configured")
	}
}
