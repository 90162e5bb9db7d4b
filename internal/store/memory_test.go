package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/agentmold/gateway/internal/store"
	"github.com/agentmold/gateway/pkg/models"
)

// newTestStore creates a fresh in-memory store whose snapshot file lives
// in a per-test temporary directory.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("GATEWAY_DATA_DIR", dir)
	defer os.Unsetenv("GATEWAY_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Usage events ────────────────────────────────────────────

func TestAppendAndListUsageEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	events := []*models.UsageEvent{
		{ID: "e1", EventType: models.UsageSkillExecution, Timestamp: now.Add(-2 * time.Hour), CustomerID: "cust-1", AgentID: "marketing-beauty", CostUSD: 0.10},
		{ID: "e2", EventType: models.UsageSkillExecution, Timestamp: now.Add(-1 * time.Hour), CustomerID: "cust-1", AgentID: "trading-desk", CostUSD: 0.20},
		{ID: "e3", EventType: models.UsageSkillExecution, Timestamp: now, CustomerID: "cust-2", AgentID: "marketing-beauty", CostUSD: 0.30},
	}
	for _, e := range events {
		if err := s.AppendUsageEvent(ctx, e); err != nil {
			t.Fatalf("AppendUsageEvent() error = %v", err)
		}
	}

	got, err := s.ListUsageEvents(ctx, store.UsageFilter{CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("ListUsageEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListUsageEvents() len = %d, want 2", len(got))
	}
	// newest first
	if got[0].ID != "e2" {
		t.Errorf("ListUsageEvents()[0].ID = %q, want %q", got[0].ID, "e2")
	}

	got, err = s.ListUsageEvents(ctx, store.UsageFilter{CustomerID: "cust-1", AgentID: "marketing-beauty"})
	if err != nil {
		t.Fatalf("ListUsageEvents() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Errorf("ListUsageEvents() with AgentID filter = %+v, want [e1]", got)
	}
}

func TestSumCostSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	s.AppendUsageEvent(ctx, &models.UsageEvent{ID: "before", Timestamp: dayStart.Add(-time.Minute), CustomerID: "cust-1", AgentID: "agent-a", CostUSD: 5.00})
	s.AppendUsageEvent(ctx, &models.UsageEvent{ID: "in-1", Timestamp: dayStart.Add(time.Hour), CustomerID: "cust-1", AgentID: "agent-a", CostUSD: 1.50})
	s.AppendUsageEvent(ctx, &models.UsageEvent{ID: "in-2", Timestamp: dayStart.Add(2 * time.Hour), CustomerID: "cust-1", AgentID: "agent-b", CostUSD: 2.50})

	total, err := s.SumCostSince(ctx, "cust-1", dayStart)
	if err != nil {
		t.Fatalf("SumCostSince() error = %v", err)
	}
	if total != 4.00 {
		t.Errorf("SumCostSince() = %v, want 4.00", total)
	}

	agentTotal, err := s.SumAgentCostSince(ctx, "cust-1", "agent-a", dayStart)
	if err != nil {
		t.Fatalf("SumAgentCostSince() error = %v", err)
	}
	if agentTotal != 1.50 {
		t.Errorf("SumAgentCostSince() = %v, want 1.50", agentTotal)
	}
}

// ─── Policy denials ──────────────────────────────────────────

func TestAppendAndListPolicyDenials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AppendPolicyDenial(ctx, &models.PolicyDenialRecord{ID: "d1", Timestamp: time.Now().UTC(), CustomerID: "cust-1", Stage: models.StageBudget, Reason: "trial_daily_cap", Path: "/agent-mold/skills/marketing/post/execute"})
	s.AppendPolicyDenial(ctx, &models.PolicyDenialRecord{ID: "d2", Timestamp: time.Now().UTC(), CustomerID: "cust-1", Stage: models.StageApproval, Reason: "approval_required", Path: "/agent-mold/skills/trading/order/execute"})
	s.AppendPolicyDenial(ctx, &models.PolicyDenialRecord{ID: "d3", Timestamp: time.Now().UTC(), CustomerID: "cust-2", Stage: models.StageBudget, Reason: "trial_daily_cap", Path: "/agent-mold/skills/marketing/post/execute"})

	got, err := s.ListPolicyDenials(ctx, store.DenialFilter{CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("ListPolicyDenials() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListPolicyDenials() len = %d, want 2", len(got))
	}

	got, err = s.ListPolicyDenials(ctx, store.DenialFilter{CustomerID: "cust-1", Stage: models.StageBudget})
	if err != nil {
		t.Fatalf("ListPolicyDenials() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "d1" {
		t.Errorf("ListPolicyDenials() with Stage filter = %+v, want [d1]", got)
	}
}

// ─── Approvals ───────────────────────────────────────────────

func TestCreateAndGetApproval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &models.ApprovalRecord{ApprovalID: "appr-1", CustomerID: "cust-1", AgentID: "trading-desk", Scope: models.ApprovalScopePerTradeAction, GrantedAt: time.Now().UTC(), SingleUse: true}
	if err := s.CreateApproval(ctx, rec); err != nil {
		t.Fatalf("CreateApproval() error = %v", err)
	}

	got, err := s.GetApproval(ctx, "appr-1")
	if err != nil {
		t.Fatalf("GetApproval() error = %v", err)
	}
	if got.Consumed() {
		t.Errorf("GetApproval().Consumed() = true, want false before consumption")
	}

	if err := s.CreateApproval(ctx, rec); err == nil {
		t.Errorf("CreateApproval() duplicate approval_id, want error")
	}
}

func TestConsumeApproval_ExactlyOneWinnerUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &models.ApprovalRecord{ApprovalID: "appr-race", CustomerID: "cust-1", AgentID: "trading-desk", Scope: models.ApprovalScopePerTradeAction, GrantedAt: time.Now().UTC(), SingleUse: true}
	if err := s.CreateApproval(ctx, rec); err != nil {
		t.Fatalf("CreateApproval() error = %v", err)
	}

	const concurrency = 20
	results := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		go func(n int) {
			_, err := s.ConsumeApproval(ctx, "appr-race", "caller", time.Now().UTC())
			results <- err
		}(i)
	}

	var wins, losses int
	for i := 0; i < concurrency; i++ {
		err := <-results
		switch err {
		case nil:
			wins++
		case store.ErrAlreadyConsumed:
			losses++
		default:
			t.Fatalf("ConsumeApproval() unexpected error = %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("ConsumeApproval() wins = %d, want exactly 1", wins)
	}
	if losses != concurrency-1 {
		t.Errorf("ConsumeApproval() losses = %d, want %d", losses, concurrency-1)
	}
}

func TestConsumeApproval_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ConsumeApproval(ctx, "does-not-exist", "caller", time.Now().UTC())
	if err == nil {
		t.Errorf("ConsumeApproval() on missing approval, want error")
	}
}

// ─── Subscriptions / Plans / HiredAgents ────────────────────

func TestSubscriptionByCustomer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub := &models.Subscription{SubscriptionID: "sub-1", CustomerID: "cust-1", PlanID: "plan-pro", Status: models.SubscriptionActive, CreatedAt: time.Now().UTC()}
	if err := s.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("PutSubscription() error = %v", err)
	}

	got, err := s.GetSubscriptionByCustomer(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetSubscriptionByCustomer() error = %v", err)
	}
	if got.SubscriptionID != "sub-1" {
		t.Errorf("GetSubscriptionByCustomer().SubscriptionID = %q, want %q", got.SubscriptionID, "sub-1")
	}

	if _, err := s.GetSubscriptionByCustomer(ctx, "unknown-customer"); err == nil {
		t.Errorf("GetSubscriptionByCustomer() on unknown customer, want error")
	}
}

func TestPlanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plan := &models.Plan{PlanID: "plan-pro", MonthlyBudgetCapUSD: 500.00}
	if err := s.PutPlan(ctx, plan); err != nil {
		t.Fatalf("PutPlan() error = %v", err)
	}

	got, err := s.GetPlan(ctx, "plan-pro")
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if got.MonthlyBudgetCapUSD != 500.00 {
		t.Errorf("GetPlan().MonthlyBudgetCapUSD = %v, want 500.00", got.MonthlyBudgetCapUSD)
	}
}

func TestHiredAgentReadyForTrial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hired := &models.HiredAgent{SubscriptionID: "sub-1", AgentID: "marketing-beauty", CustomerID: "cust-1", Configured: true, GoalsCompleted: true, TrialStatus: models.TrialNotStarted}
	if err := s.PutHiredAgent(ctx, hired); err != nil {
		t.Fatalf("PutHiredAgent() error = %v", err)
	}

	got, err := s.GetHiredAgent(ctx, "cust-1", "marketing-beauty")
	if err != nil {
		t.Fatalf("GetHiredAgent() error = %v", err)
	}

	sub := &models.Subscription{Status: models.SubscriptionActive}
	if !got.ReadyForTrial(sub) {
		t.Errorf("ReadyForTrial() = false, want true for configured+completed hired agent under active subscription")
	}

	sub.Status = models.SubscriptionPaymentFailed
	if got.ReadyForTrial(sub) {
		t.Errorf("ReadyForTrial() = true, want false when subscription is not active")
	}
}

// ─── Deliverables ────────────────────────────────────────────

func TestDeliverableCreateUpdateList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := &models.Deliverable{DeliverableID: "del-1", AgentID: "marketing-beauty", CustomerID: "cust-1", State: models.DeliverableDraft, Canonical: "Introducing our...", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := s.CreateDeliverable(ctx, d); err != nil {
		t.Fatalf("CreateDeliverable() error = %v", err)
	}

	d.State = models.DeliverableInReview
	if err := s.UpdateDeliverable(ctx, d); err != nil {
		t.Fatalf("UpdateDeliverable() error = %v", err)
	}

	got, err := s.GetDeliverable(ctx, "del-1")
	if err != nil {
		t.Fatalf("GetDeliverable() error = %v", err)
	}
	if got.State != models.DeliverableInReview {
		t.Errorf("GetDeliverable().State = %q, want %q", got.State, models.DeliverableInReview)
	}

	missing := &models.Deliverable{DeliverableID: "does-not-exist"}
	if err := s.UpdateDeliverable(ctx, missing); err == nil {
		t.Errorf("UpdateDeliverable() on missing deliverable, want error")
	}

	list, err := s.ListDeliverables(ctx, "cust-1", 0)
	if err != nil {
		t.Fatalf("ListDeliverables() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListDeliverables() len = %d, want 1", len(list))
	}
}

// ─── Ping / Close ────────────────────────────────────────────

func TestPingAndClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	// Close should be idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("Close() second call error = %v", err)
	}
}
