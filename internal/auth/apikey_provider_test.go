package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentmold/gateway/internal/auth"
)

func TestPlatformKeyProvider_AuthenticatesValidKey(t *testing.T) {
	p := auth.NewPlatformKeyProvider()
	p.AddKey("op-key-1")
	if !p.Enabled() {
		t.Fatal("Enabled() = false after AddKey, want true")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Platform-Key", "op-key-1")

	identity, err := p.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if identity == nil || identity.Role != "platform_admin" {
		t.Errorf("Authenticate() = %+v, want platform_admin identity", identity)
	}
}

func TestPlatformKeyProvider_QueryParamKeyAccepted(t *testing.T) {
	p := auth.NewPlatformKeyProvider()
	p.AddKey("op-key-1")

	req := httptest.NewRequest(http.MethodGet, "/?platform_key=op-key-1", nil)
	identity, err := p.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if identity == nil {
		t.Error("Authenticate() via query param = nil identity, want authenticated identity")
	}
}

func TestPlatformKeyProvider_NoKeyReturnsNilNil(t *testing.T) {
	p := auth.NewPlatformKeyProvider()
	p.AddKey("op-key-1")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	identity, err := p.Authenticate(req.Context(), req)
	if identity != nil || err != nil {
		t.Errorf("Authenticate() = (%v, %v), want (nil, nil) when no key present", identity, err)
	}
}

func TestPlatformKeyProvider_InvalidKeyRejected(t *testing.T) {
	p := auth.NewPlatformKeyProvider()
	p.AddKey("op-key-1")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Platform-Key", "wrong-key")

	if _, err := p.Authenticate(req.Context(), req); err == nil {
		t.Error("Authenticate() error = nil, want error for unrecognized key")
	}
}

func TestPlatformKeyProvider_DisabledWithNoKeysConfigured(t *testing.T) {
	p := auth.NewPlatformKeyProvider()
	if p.Enabled() {
		t.Error("Enabled() = true, want false with no keys configured")
	}
}
