package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentmold/gateway/internal/clock"
	"github.com/agentmold/gateway/internal/gateway"
	"github.com/agentmold/gateway/internal/policy"
	"github.com/agentmold/gateway/internal/store"
	"github.com/agentmold/gateway/pkg/contracts"
	"github.com/agentmold/gateway/pkg/models"
)

type stubBudget struct {
	decision *contracts.BudgetDecision
	err      error
}

func (b stubBudget) Check(_ context.Context, _ *models.RequestContext, _ float64) (*contracts.BudgetDecision, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.decision, nil
}

func newDenialStore(t *testing.T) store.Store {
	t.Helper()
	t.Setenv("GATEWAY_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAuthorize_AllowsReadByOperator(t *testing.T) {
	s := newDenialStore(t)
	pipeline := gateway.NewPipeline(policy.NewFallbackSet(), stubBudget{decision: &contracts.BudgetDecision{Allow: true}}, s, clock.FixedClock{At: time.Now()}, &clock.SequentialIDGenerator{IDs: []string{"dec-1"}})

	rc := &models.RequestContext{CustomerID: "cust-1", AgentID: "tutor-algebra", Roles: []string{"customer_operator"}, IntentAction: models.IntentRead}
	if err := pipeline.Authorize(context.Background(), rc, 0.01); err != nil {
		t.Fatalf("Authorize() error = %v, want nil", err)
	}
	if rc.DecisionID != "dec-1" {
		t.Errorf("Authorize() DecisionID = %q, want %q", rc.DecisionID, "dec-1")
	}
}

func TestAuthorize_RBACDeniesUnlistedRole(t *testing.T) {
	s := newDenialStore(t)
	pipeline := gateway.NewPipeline(policy.NewFallbackSet(), stubBudget{decision: &contracts.BudgetDecision{Allow: true}}, s, clock.FixedClock{At: time.Now()}, &clock.SequentialIDGenerator{IDs: []string{"dec-1"}})

	rc := &models.RequestContext{CustomerID: "cust-1", Roles: []string{"guest"}, IntentAction: models.IntentPublish}
	err := pipeline.Authorize(context.Background(), rc, 0)

	var denial *gateway.Denial
	if !errors.As(err, &denial) {
		t.Fatalf("Authorize() error = %v, want *gateway.Denial", err)
	}
	if denial.Stage != models.StageRBAC {
		t.Errorf("Authorize() denial stage = %q, want %q", denial.Stage, models.StageRBAC)
	}

	denials, _ := s.ListPolicyDenials(context.Background(), store.DenialFilter{CustomerID: "cust-1"})
	if len(denials) != 1 {
		t.Fatalf("ListPolicyDenials() len = %d, want 1 (pipeline must durably record the denial)", len(denials))
	}
}

func TestAuthorize_TrialModeBlocksSideEffect(t *testing.T) {
	s := newDenialStore(t)
	pipeline := gateway.NewPipeline(policy.NewFallbackSet(), stubBudget{decision: &contracts.BudgetDecision{Allow: true}}, s, clock.FixedClock{At: time.Now()}, &clock.SequentialIDGenerator{IDs: []string{"dec-1"}})

	rc := &models.RequestContext{CustomerID: "cust-1", Roles: []string{"customer_admin"}, TrialMode: true, IntentAction: models.IntentPlaceOrder, ApprovalID: "appr-1"}
	err := pipeline.Authorize(context.Background(), rc, 0)

	var denial *gateway.Denial
	if !errors.As(err, &denial) {
		t.Fatalf("Authorize() error = %v, want *gateway.Denial", err)
	}
	if denial.Stage != models.StagePolicy || denial.Reason != "trial_production_write_blocked" {
		t.Errorf("Authorize() = %+v, want trial_mode policy denial", denial)
	}
}

func TestAuthorize_RequiresApprovalForSideEffectAction(t *testing.T) {
	s := newDenialStore(t)
	pipeline := gateway.NewPipeline(policy.NewFallbackSet(), stubBudget{decision: &contracts.BudgetDecision{Allow: true}}, s, clock.FixedClock{At: time.Now()}, &clock.SequentialIDGenerator{IDs: []string{"dec-1"}})

	rc := &models.RequestContext{CustomerID: "cust-1", Roles: []string{"customer_admin"}, IntentAction: models.IntentPublish}
	err := pipeline.Authorize(context.Background(), rc, 0)

	var denial *gateway.Denial
	if !errors.As(err, &denial) {
		t.Fatalf("Authorize() error = %v, want *gateway.Denial", err)
	}
	if denial.Stage != models.StageApproval {
		t.Errorf("Authorize() stage = %q, want %q", denial.Stage, models.StageApproval)
	}
}

func TestAuthorize_BudgetDenyShortCircuitsAfterPolicyStages(t *testing.T) {
	s := newDenialStore(t)
	pipeline := gateway.NewPipeline(policy.NewFallbackSet(), stubBudget{decision: &contracts.BudgetDecision{Allow: false, Reason: "agent_daily_cap"}}, s, clock.FixedClock{At: time.Now()}, &clock.SequentialIDGenerator{IDs: []string{"dec-1"}})

	rc := &models.RequestContext{CustomerID: "cust-1", Roles: []string{"customer_operator"}, IntentAction: models.IntentRead}
	err := pipeline.Authorize(context.Background(), rc, 5.00)

	var denial *gateway.Denial
	if !errors.As(err, &denial) {
		t.Fatalf("Authorize() error = %v, want *gateway.Denial", err)
	}
	if denial.Stage != models.StageBudget || denial.Reason != "agent_daily_cap" {
		t.Errorf("Authorize() = %+v, want budget denial agent_daily_cap", denial)
	}
}

func TestAuthorize_BudgetEvaluationErrorDeniesSafely(t *testing.T) {
	s := newDenialStore(t)
	pipeline := gateway.NewPipeline(policy.NewFallbackSet(), stubBudget{err: errors.New("store unavailable")}, s, clock.FixedClock{At: time.Now()}, &clock.SequentialIDGenerator{IDs: []string{"dec-1"}})

	rc := &models.RequestContext{CustomerID: "cust-1", Roles: []string{"customer_operator"}, IntentAction: models.IntentRead}
	err := pipeline.Authorize(context.Background(), rc, 0.01)

	var denial *gateway.Denial
	if !errors.As(err, &denial) {
		t.Fatalf("Authorize() error = %v, want *gateway.Denial on budget evaluator failure (deny-by-default)", err)
	}
	if denial.Stage != models.StageBudget {
		t.Errorf("Authorize() stage = %q, want %q", denial.Stage, models.StageBudget)
	}
}
