package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentmold/gateway/pkg/contracts"
)

// PeerEnvelopeProvider validates HMAC-signed service-to-service tokens.
// Used for agent-runtime-to-gateway calls and internal automation —
// the gateway equivalent of a service account.
//
// Token format: base64(JSON payload) + "." + base64(HMAC-SHA256 signature)
// Payload: {"sub": "skill-executor", "customer_id": "...", "role": "service", "exp": 1234567890}
//
// Config: cfg.Auth.PeerSharedSecret (AGENTMOLD_PEER_SECRET env var).
type PeerEnvelopeProvider struct {
	secret  []byte
	enabled bool
}

// peerEnvelopePayload is the signed payload carried by a peer token.
type peerEnvelopePayload struct {
	Subject    string `json:"sub"`
	CustomerID string `json:"customer_id,omitempty"`
	Role       string `json:"role"`
	Exp        int64  `json:"exp"`
}

// NewPeerEnvelopeProvider creates a peer-envelope auth provider bound to
// the given shared secret. An empty secret disables the provider.
func NewPeerEnvelopeProvider(secret string) *PeerEnvelopeProvider {
	if secret == "" {
		return &PeerEnvelopeProvider{enabled: false}
	}
	return &PeerEnvelopeProvider{
		secret:  []byte(secret),
		enabled: true,
	}
}

func (p *PeerEnvelopeProvider) Name() string  { return "peer_envelope" }
func (p *PeerEnvelopeProvider) Enabled() bool { return p.enabled }

// Authenticate validates the peer token carried in the X-Peer-Token header.
// Returns (nil, nil) if no peer token is present.
func (p *PeerEnvelopeProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	token := r.Header.Get("X-Peer-Token")
	if token == "" {
		return nil, nil
	}

	payload, err := p.validateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid peer token: %w", err)
	}

	return &contracts.Identity{
		Subject:     "svc:" + payload.Subject,
		Provider:    "peer_envelope",
		CustomerID:  payload.CustomerID,
		Role:        payload.Role,
		DisplayName: payload.Subject,
		ExpiresAt:   time.Unix(payload.Exp, 0),
	}, nil
}

func (p *PeerEnvelopeProvider) validateToken(token string) (*peerEnvelopePayload, error) {
	payloadB64, sigB64, ok := splitToken(token)
	if !ok {
		return nil, fmt.Errorf("malformed token: expected payload.signature")
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(payloadB64))
	expectedSig := mac.Sum(nil)

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !hmac.Equal(sig, expectedSig) {
		return nil, fmt.Errorf("signature mismatch")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}

	var payload peerEnvelopePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}

	if payload.Exp > 0 && time.Now().Unix() > payload.Exp {
		return nil, fmt.Errorf("token expired")
	}
	if payload.Subject == "" {
		return nil, fmt.Errorf("missing subject")
	}
	if payload.Role == "" {
		payload.Role = "service"
	}

	return &payload, nil
}

func splitToken(token string) (payload, sig string, ok bool) {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}

// GeneratePeerToken creates a signed peer-envelope token. Helper for
// internal service wiring and tests — not called from the request path.
func GeneratePeerToken(secret []byte, subject, customerID, role string, ttl time.Duration) (string, error) {
	payload := peerEnvelopePayload{
		Subject:    subject,
		CustomerID: customerID,
		Role:       role,
		Exp:        time.Now().Add(ttl).Unix(),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadBytes)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payloadB64))
	sig := mac.Sum(nil)
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	return payloadB64 + "." + sigB64, nil
}
