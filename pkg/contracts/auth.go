// Package contracts — authentication interfaces for the pluggable auth layer.
//
// These types form the boundary between the gateway's bundled auth
// providers (JWT bearer, service-account HMAC) and anything a deployer
// wires in later (OIDC, SAML, mTLS). No downstream stage ever knows
// which provider produced an Identity.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated human operator or service caller.
// Produced by an AuthProvider, consumed by the RBAC and policy stages.
type Identity struct {
	// Subject is the unique identifier (user ID, service account name).
	Subject string `json:"subject"`

	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	// Provider identifies which auth provider authenticated this identity.
	// Values: "bearer_jwt", "peer_envelope", "platform_key".
	Provider string `json:"provider"`

	// CustomerID is the tenant scope extracted from token claims.
	CustomerID string `json:"customer_id,omitempty"`

	// Role is the portal-facing role (customer_admin, customer_operator,
	// platform_admin, service).
	Role string `json:"role"`

	Groups []string          `json:"groups,omitempty"`
	Claims map[string]string `json:"claims,omitempty"`

	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// ── AuthProviderChain ───────────────────────────────────────

// AuthProviderChain tries providers in priority order until one returns an
// Identity.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
