package policy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentmold/gateway/internal/policy"
	"github.com/agentmold/gateway/pkg/contracts"
)

func TestEvaluate_AllowFromWellFormedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/data/agent/rbac" {
			t.Errorf("request path = %q, want /v1/data/agent/rbac", r.URL.Path)
		}
		w.Write([]byte(`{"result": {"allow": true, "reason": "rbac_ok"}}`))
	}))
	defer srv.Close()

	c := policy.NewClient(srv.URL, nil)
	decision, err := c.Evaluate(context.Background(), "agent/rbac", contracts.PolicyInput{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !decision.Allow || decision.Reason != "rbac_ok" {
		t.Errorf("Evaluate() = %+v, want allow with reason rbac_ok", decision)
	}
}

func TestEvaluate_NonOKStatusDeniesSafely(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := policy.NewClient(srv.URL, nil)
	decision, err := c.Evaluate(context.Background(), "agent/rbac", contracts.PolicyInput{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil error with deny decision", err)
	}
	if decision.Allow || decision.Reason != "policy_unavailable" {
		t.Errorf("Evaluate() = %+v, want deny with reason policy_unavailable", decision)
	}
}

func TestEvaluate_TransportFailureDeniesSafely(t *testing.T) {
	c := policy.NewClient("http://127.0.0.1:1", nil)
	decision, err := c.Evaluate(context.Background(), "agent/rbac", contracts.PolicyInput{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil error with deny decision", err)
	}
	if decision.Allow || decision.Reason != "policy_unavailable" {
		t.Errorf("Evaluate() = %+v, want deny with reason policy_unavailable on transport failure", decision)
	}
}

func TestEvaluate_MalformedJSONDeniesSafely(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := policy.NewClient(srv.URL, nil)
	decision, err := c.Evaluate(context.Background(), "agent/rbac", contracts.PolicyInput{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v, want nil error with deny decision", err)
	}
	if decision.Allow {
		t.Errorf("Evaluate() = %+v, want deny for malformed response body", decision)
	}
}
