// Package budget evaluates trial, per-agent, and per-plan spending caps
// before a budgeted call is allowed to proceed. Evaluation order is
// fixed — trial caps first, so trial users see trial-specific deny
// reasons rather than a generic monthly-cap message — and every cap is
// a UTC calendar-day or calendar-month sum, never a rolling window.
package budget

import (
	"context"
	"time"

	"github.com/agentmold/gateway/internal/store"
	"github.com/agentmold/gateway/pkg/contracts"
	"github.com/agentmold/gateway/pkg/models"
)

// Deny reasons. Stable and enumerated — new reasons are a design
// change, never an inline string at a call site.
const (
	ReasonTrialDailyCap             = "trial_daily_cap"
	ReasonTrialDailyTokenCap        = "trial_daily_token_cap"
	ReasonTrialHighCostCall         = "trial_high_cost_call"
	ReasonTrialProductionWriteBlock = "trial_production_write_blocked"
	ReasonAgentDailyCap             = "agent_daily_cap"
	ReasonMonthlyBudgetExceeded     = "monthly_budget_exceeded"
	ReasonMonthly95PctNonCritical   = "monthly_budget_95pct_noncritical"
	ReasonMeteringRequired          = "metering_required_for_budget"
)

// Limits configures the evaluator's caps. Zero values fall back to the
// spec defaults noted alongside each field.
type Limits struct {
	TrialTasksPerDay    int     // default 10
	TrialTokensPerDay   int64   // default 10000
	TrialHighCostUSD    float64 // default 1.0 — calls above this are denied in trial mode
	AgentDailyCapUSD    float64 // default 1.0
	CriticalAgentIDs    map[string]bool // allowlist exempt from the 95% monthly throttle
}

// DefaultLimits returns the spec's documented defaults.
func DefaultLimits() Limits {
	return Limits{
		TrialTasksPerDay:  10,
		TrialTokensPerDay: 10000,
		TrialHighCostUSD:  1.0,
		AgentDailyCapUSD:  1.0,
		CriticalAgentIDs: map[string]bool{
			"genesis":         true,
			"architect":       true,
			"vision_guardian": true,
		},
	}
}

// Evaluator is the store-backed contracts.BudgetEvaluator implementation.
type Evaluator struct {
	store  store.UsageEventStore
	plans  store.PlanStore
	clock  contracts.Clock
	limits Limits
}

// NewEvaluator builds a budget Evaluator.
func NewEvaluator(usageStore store.UsageEventStore, plans store.PlanStore, clock contracts.Clock, limits Limits) *Evaluator {
	defaults := DefaultLimits()
	if limits.TrialTasksPerDay == 0 {
		limits.TrialTasksPerDay = defaults.TrialTasksPerDay
	}
	if limits.TrialTokensPerDay == 0 {
		limits.TrialTokensPerDay = defaults.TrialTokensPerDay
	}
	if limits.TrialHighCostUSD == 0 {
		limits.TrialHighCostUSD = defaults.TrialHighCostUSD
	}
	if limits.AgentDailyCapUSD == 0 {
		limits.AgentDailyCapUSD = defaults.AgentDailyCapUSD
	}
	return &Evaluator{store: usageStore, plans: plans, clock: clock, limits: limits}
}

// Check runs the ordered budget evaluation for a prospective call and
// returns the first deny encountered, or an allow.
func (e *Evaluator) Check(ctx context.Context, rc *models.RequestContext, estimatedCostUSD float64) (*contracts.BudgetDecision, error) {
	now := e.clock.Now()
	dayStart := utcDayStart(now)
	monthStart := utcMonthStart(now)

	if rc.BudgetOverride {
		return &contracts.BudgetDecision{Allow: true}, nil
	}

	// 1. Trial daily caps.
	if rc.TrialMode {
		if dec := e.checkTrial(ctx, rc, estimatedCostUSD, dayStart); dec != nil {
			return dec, nil
		}
	}

	// 2. Per-agent daily cap.
	if rc.AgentID != "" {
		agentSpent, err := e.store.SumAgentCostSince(ctx, rc.CustomerID, rc.AgentID, dayStart)
		if err != nil {
			return nil, err
		}
		if agentSpent+estimatedCostUSD > e.limits.AgentDailyCapUSD {
			return &contracts.BudgetDecision{Allow: false, Reason: ReasonAgentDailyCap}, nil
		}
	}

	// 3. Per-plan monthly cap.
	if rc.PlanID != "" {
		plan, err := e.plans.GetPlan(ctx, rc.PlanID)
		if err == nil && plan != nil && plan.MonthlyBudgetCapUSD > 0 {
			planSpent, err := e.store.SumCostSince(ctx, rc.CustomerID, monthStart)
			if err != nil {
				return nil, err
			}
			projected := planSpent + estimatedCostUSD
			if projected > plan.MonthlyBudgetCapUSD {
				return &contracts.BudgetDecision{Allow: false, Reason: ReasonMonthlyBudgetExceeded}, nil
			}
			utilization := projected / plan.MonthlyBudgetCapUSD
			if utilization >= 0.95 && !e.limits.CriticalAgentIDs[rc.AgentID] {
				return &contracts.BudgetDecision{Allow: false, Reason: ReasonMonthly95PctNonCritical}, nil
			}
		}
	}

	return &contracts.BudgetDecision{Allow: true}, nil
}

func (e *Evaluator) checkTrial(ctx context.Context, rc *models.RequestContext, estimatedCostUSD float64, dayStart time.Time) *contracts.BudgetDecision {
	if models.SideEffectActions[rc.IntentAction] {
		return &contracts.BudgetDecision{Allow: false, Reason: ReasonTrialProductionWriteBlock}
	}
	if estimatedCostUSD > e.limits.TrialHighCostUSD {
		return &contracts.BudgetDecision{Allow: false, Reason: ReasonTrialHighCostCall}
	}

	events, err := e.store.ListUsageEvents(ctx, store.UsageFilter{
		CustomerID: rc.CustomerID,
		AgentID:    rc.AgentID,
		Since:      &dayStart,
	})
	if err != nil {
		return nil
	}

	if len(events)+1 > e.limits.TrialTasksPerDay {
		return &contracts.BudgetDecision{Allow: false, Reason: ReasonTrialDailyCap}
	}

	var tokens int64
	for _, ev := range events {
		tokens += ev.TokensIn + ev.TokensOut
	}
	if tokens > e.limits.TrialTokensPerDay {
		return &contracts.BudgetDecision{Allow: false, Reason: ReasonTrialDailyTokenCap}
	}

	return nil
}

func utcDayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func utcMonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
