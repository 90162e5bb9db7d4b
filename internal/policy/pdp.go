// Package policy implements the gateway's external Policy Decision
// Point (PDP) client — an OPA-compatible REST endpoint consulted for
// RBAC and action-policy decisions — plus the bundled fallback policy
// set used when no external PDP is configured.
//
// The client is deny-by-default (invariant "L0"): any transport
// failure, non-2xx response, or timeout is treated as Allow=false with
// reason "policy_unavailable", never as an implicit allow.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentmold/gateway/pkg/contracts"
)

// defaultTimeout is the spec's egress timeout for PDP calls; any
// transport failure within this window (or the call exceeding it) is a
// deny.
const defaultTimeout = 500 * time.Millisecond

// Client is an HTTP client for an OPA-style PDP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a PDP client against baseURL (e.g.
// "http://pdp.internal:8181"). A nil httpClient uses the package
// default timeout. Evaluate bounds every call by defaultTimeout in any
// case, so a client timeout longer than that has no effect.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

type opaResponse struct {
	Result struct {
		Allow       bool                   `json:"allow"`
		Reason      string                 `json:"reason"`
		Obligations map[string]interface{} `json:"obligations"`
	} `json:"result"`
}

// Evaluate calls POST {base}/v1/data/{policyPath} with {"input": input}
// and returns the parsed decision. Any failure denies.
func (c *Client) Evaluate(ctx context.Context, policyPath string, input contracts.PolicyInput) (*contracts.PolicyDecision, error) {
	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return denyUnavailable(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/data/%s", c.baseURL, policyPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return denyUnavailable(), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return denyUnavailable(), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return denyUnavailable(), nil
	}

	var parsed opaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return denyUnavailable(), nil
	}

	return &contracts.PolicyDecision{
		Allow:       parsed.Result.Allow,
		Reason:      parsed.Result.Reason,
		Obligations: parsed.Result.Obligations,
	}, nil
}

func denyUnavailable() *contracts.PolicyDecision {
	return &contracts.PolicyDecision{Allow: false, Reason: "policy_unavailable"}
}
