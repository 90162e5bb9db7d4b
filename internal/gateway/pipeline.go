// Package gateway composes the authorization pipeline every guarded
// request passes through after authentication and customer resolution:
// RBAC, trial-mode policy, approval-requirement policy, autopublish
// policy, and the budget guard, in that strict order. A denial at any stage
// short-circuits the remaining stages and is recorded to the audit
// store with the stage that produced it.
package gateway

import (
	"context"
	"fmt"

	"github.com/agentmold/gateway/internal/store"
	"github.com/agentmold/gateway/pkg/contracts"
	"github.com/agentmold/gateway/pkg/models"
)

// Pipeline authorizes one guarded action end to end.
type Pipeline struct {
	pdp    contracts.PDPClient
	budget contracts.BudgetEvaluator
	store  store.PolicyDenialStore
	clock  contracts.Clock
	ids    contracts.IDGenerator
}

// NewPipeline builds a Pipeline. pdp may be an external PDPClient or
// the bundled FallbackSet — both satisfy contracts.PDPClient.
func NewPipeline(pdp contracts.PDPClient, budget contracts.BudgetEvaluator, denials store.PolicyDenialStore, clock contracts.Clock, ids contracts.IDGenerator) *Pipeline {
	return &Pipeline{pdp: pdp, budget: budget, store: denials, clock: clock, ids: ids}
}

// Denial describes why an authorization stage rejected the request.
type Denial struct {
	Stage  models.DenialStage
	Reason string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", d.Stage, d.Reason)
}

// Authorize runs RBAC, trial-mode, approval-requirement, autopublish,
// and budget checks in order for rc, stamping a fresh DecisionID onto
// rc as it goes. estimatedCostUSD is the cost the guarded call would
// incur if allowed; pass 0 for actions with no metered cost.
//
// On denial, Authorize records a PolicyDenialRecord to the audit store
// before returning the *Denial describing the failing stage.
func (p *Pipeline) Authorize(ctx context.Context, rc *models.RequestContext, estimatedCostUSD float64) error {
	rc.DecisionID = p.ids.NewID()

	input := contracts.PolicyInput{
		CustomerID:  rc.CustomerID,
		AgentID:     rc.AgentID,
		Action:      string(rc.IntentAction),
		Role:        firstRole(rc.Roles),
		TrialMode:   rc.TrialMode,
		Autopublish: rc.Autopublish,
	}

	if denial := p.evaluate(ctx, rc, "rbac/allow", input, models.StageRBAC); denial != nil {
		return denial
	}

	if rc.TrialMode {
		if denial := p.evaluate(ctx, rc, "trial_mode/allow", input, models.StagePolicy); denial != nil {
			return denial
		}
	}

	if models.SideEffectActions[rc.IntentAction] && rc.ApprovalID == "" {
		if denial := p.evaluate(ctx, rc, "approval/required_for_action", input, models.StageApproval); denial != nil {
			return denial
		}
	}

	if rc.DoPublish && rc.Autopublish {
		if denial := p.evaluate(ctx, rc, "autopublish/allow", input, models.StagePolicy); denial != nil {
			return denial
		}
	}

	if p.budget != nil {
		decision, err := p.budget.Check(ctx, rc, estimatedCostUSD)
		if err != nil {
			return p.deny(ctx, rc, models.StageBudget, "budget/check", "budget_evaluation_failed")
		}
		if !decision.Allow {
			return p.deny(ctx, rc, models.StageBudget, "budget/check", decision.Reason)
		}
	}

	return nil
}

func (p *Pipeline) evaluate(ctx context.Context, rc *models.RequestContext, path string, input contracts.PolicyInput, stage models.DenialStage) error {
	decision, err := p.pdp.Evaluate(ctx, path, input)
	if err != nil {
		return p.deny(ctx, rc, stage, path, "policy_unavailable")
	}
	if !decision.Allow {
		reason := decision.Reason
		if reason == "" {
			reason = "denied"
		}
		return p.deny(ctx, rc, stage, path, reason)
	}
	return nil
}

func (p *Pipeline) deny(ctx context.Context, rc *models.RequestContext, stage models.DenialStage, path, reason string) error {
	record := &models.PolicyDenialRecord{
		ID:            p.ids.NewID(),
		Timestamp:     p.clock.Now(),
		CorrelationID: rc.CorrelationID,
		DecisionID:    rc.DecisionID,
		AgentID:       rc.AgentID,
		CustomerID:    rc.CustomerID,
		Stage:         stage,
		Action:        string(rc.IntentAction),
		Reason:        reason,
		Path:          path,
	}
	if p.store != nil {
		_ = p.store.AppendPolicyDenial(ctx, record)
	}
	return &Denial{Stage: stage, Reason: reason}
}

func firstRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	return roles[0]
}
