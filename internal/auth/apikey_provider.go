package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agentmold/gateway/pkg/contracts"
)

// PlatformKeyProvider validates static platform-admin API keys used for
// operator tooling and the admin query surface. It is not used by
// customer/agent traffic, which authenticates via JWTBearerProvider.
//
// Config: GATEWAY_PLATFORM_API_KEYS env var (comma-separated list).
type PlatformKeyProvider struct {
	mu      sync.RWMutex
	keys    map[string]bool
	enabled bool
}

// NewPlatformKeyProvider creates a platform-admin key provider from
// environment config.
func NewPlatformKeyProvider() *PlatformKeyProvider {
	p := &PlatformKeyProvider{
		keys: make(map[string]bool),
	}

	keysEnv := os.Getenv("GATEWAY_PLATFORM_API_KEYS")
	if keysEnv == "" {
		p.enabled = false
		return p
	}

	for _, key := range strings.Split(keysEnv, ",") {
		key = strings.TrimSpace(key)
		if key != "" {
			p.keys[key] = true
			p.enabled = true
		}
	}

	return p
}

func (p *PlatformKeyProvider) Name() string { return "platform_key" }

func (p *PlatformKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Authenticate validates the platform key and returns an Identity.
// Returns (nil, nil) if no key is present (let the next provider try).
// Returns (nil, error) if a key is present but invalid.
func (p *PlatformKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	apiKey := extractPlatformKey(r)
	if apiKey == "" {
		return nil, nil
	}

	if !p.validateKey(apiKey) {
		return nil, fmt.Errorf("invalid platform API key")
	}

	keyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(apiKey)))

	return &contracts.Identity{
		Subject:     "platform:" + keyHash[:16],
		Provider:    "platform_key",
		Role:        "platform_admin",
		DisplayName: "Platform Operator",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *PlatformKeyProvider) validateKey(candidate string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for key := range p.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// AddKey adds a new platform key at runtime.
func (p *PlatformKeyProvider) AddKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = true
	p.enabled = true
}

func extractPlatformKey(r *http.Request) string {
	if key := r.Header.Get("X-Platform-Key"); key != "" {
		return key
	}
	if key := r.URL.Query().Get("platform_key"); key != "" {
		return key
	}
	return ""
}
