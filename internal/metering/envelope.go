// Package metering verifies the signed cost/token attestation ("metering
// envelope") carried on a request's X-Metering-* headers. The gateway
// never trusts a caller-declared cost figure for budget enforcement
// unless it is signed by a key the gateway itself issued to the
// metering sidecar, following the same HMAC-over-canonical-string
// pattern used for the peer-to-peer service tokens.
package metering

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentmold/gateway/pkg/models"
)

const (
	headerTimestamp     = "X-Metering-Timestamp"
	headerCorrelationID = "X-Metering-Correlation-Id"
	headerTokensIn      = "X-Metering-Tokens-In"
	headerTokensOut     = "X-Metering-Tokens-Out"
	headerModel         = "X-Metering-Model"
	headerCacheHit      = "X-Metering-Cache-Hit"
	headerCostUSD       = "X-Metering-Cost-Usd"
	headerSignature     = "X-Metering-Signature"
)

// Verifier validates metering envelopes against a shared HMAC secret
// and rejects envelopes whose timestamp has drifted beyond MaxSkew.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
}

// NewVerifier builds a metering envelope verifier. maxSkew bounds how
// far a metering timestamp may drift from the gateway's clock before
// the envelope is rejected as stale or replayed.
func NewVerifier(secret []byte, maxSkew time.Duration) *Verifier {
	return &Verifier{secret: secret, maxSkew: maxSkew}
}

// Verify parses and authenticates a metering envelope from request
// headers. It returns an error for a missing timestamp, correlation ID,
// token count, cost or signature header, a malformed signature, or a
// clock-skew violation — there is no partial-trust path. Model and
// cache-hit may be absent; they are signed as empty strings.
func (v *Verifier) Verify(headers http.Header) (*models.MeteringEnvelope, error) {
	ts := headers.Get(headerTimestamp)
	corrID := headers.Get(headerCorrelationID)
	tokensIn := headers.Get(headerTokensIn)
	tokensOut := headers.Get(headerTokensOut)
	model := headers.Get(headerModel)
	cacheHit := headers.Get(headerCacheHit)
	costUSD := headers.Get(headerCostUSD)
	sig := headers.Get(headerSignature)

	if ts == "" || corrID == "" || tokensIn == "" || tokensOut == "" || costUSD == "" || sig == "" {
		return nil, fmt.Errorf("metering envelope: missing required header")
	}

	cost, err := strconv.ParseFloat(costUSD, 64)
	if err != nil {
		return nil, fmt.Errorf("metering envelope: invalid cost_usd: %w", err)
	}
	canonicalCost := strconv.FormatFloat(cost, 'f', 6, 64)

	canonical := v.canonicalString(ts, corrID, tokensIn, tokensOut, model, cacheHit, canonicalCost)
	if !v.validSignature(canonical, sig) {
		return nil, fmt.Errorf("metering envelope: signature mismatch")
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("metering envelope: invalid timestamp: %w", err)
	}
	envelopeTime := time.Unix(tsUnix, 0).UTC()
	if skew := time.Since(envelopeTime); skew > v.maxSkew || skew < -v.maxSkew {
		return nil, fmt.Errorf("metering envelope: timestamp outside allowed skew (%s)", skew)
	}

	in, err := strconv.ParseInt(tokensIn, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("metering envelope: invalid tokens_in: %w", err)
	}
	out, err := strconv.ParseInt(tokensOut, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("metering envelope: invalid tokens_out: %w", err)
	}

	return &models.MeteringEnvelope{
		Timestamp:     envelopeTime,
		CorrelationID: corrID,
		TokensIn:      in,
		TokensOut:     out,
		Model:         model,
		CacheHit:      cacheHit == "true",
		CostUSD:       cost,
		Signature:     sig,
	}, nil
}

func (v *Verifier) canonicalString(ts, corrID, tokensIn, tokensOut, model, cacheHit, costUSD string) string {
	return strings.Join([]string{ts, corrID, tokensIn, tokensOut, model, cacheHit, costUSD}, "|")
}

func (v *Verifier) validSignature(canonical, sigB64 string) bool {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(canonical))
	expected := mac.Sum(nil)

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	return hmac.Equal(sig, expected)
}

// Sign produces the signature for a metering envelope. Used by the
// metering sidecar (or tests) to construct a valid envelope; never
// called from the gateway's own request path. costUSD is parsed and
// reformatted to 6 decimals before canonicalization, exactly as Verify
// does on the receiving end, so signer and verifier agree regardless
// of how the caller happened to format the cost figure.
func Sign(secret []byte, ts, corrID, tokensIn, tokensOut, model, cacheHit, costUSD string) string {
	cost, err := strconv.ParseFloat(costUSD, 64)
	if err != nil {
		cost = 0
	}
	canonicalCost := strconv.FormatFloat(cost, 'f', 6, 64)

	v := &Verifier{secret: secret}
	canonical := v.canonicalString(ts, corrID, tokensIn, tokensOut, model, cacheHit, canonicalCost)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
