// Package store provides the storage interface and implementations for
// the enforcement gateway. The gateway's invariant is append-only event
// storage plus an atomic single-use approval primitive — not a specific
// database — so this package defines that contract first and ships an
// in-memory implementation; a transactional SQL store can satisfy the
// same interface without any caller change.
package store

import (
	"context"
	"time"

	"github.com/agentmold/gateway/pkg/models"
)

// Store is the primary storage interface for the gateway.
type Store interface {
	UsageEventStore
	PolicyDenialStore
	ApprovalStore
	SubscriptionStore
	PlanStore
	HiredAgentStore
	DeliverableStore

	// Ping checks if the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Usage event store ────────────────────────────────────────

// UsageFilter selects a subset of usage events for listing/aggregation.
type UsageFilter struct {
	CustomerID string
	AgentID    string
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// UsageEventStore is an append-only log of successful, budget-relevant calls.
type UsageEventStore interface {
	// AppendUsageEvent appends a usage event. It never overwrites or
	// mutates an existing event.
	AppendUsageEvent(ctx context.Context, event *models.UsageEvent) error

	// ListUsageEvents returns filtered usage events, newest first.
	ListUsageEvents(ctx context.Context, filter UsageFilter) ([]models.UsageEvent, error)

	// SumCostSince returns the total cost in USD for a customer since the
	// given UTC instant — the primitive behind daily/monthly budget caps.
	SumCostSince(ctx context.Context, customerID string, since time.Time) (float64, error)

	// SumAgentCostSince returns the total cost in USD for one agent under
	// a customer since the given UTC instant — the per-agent daily cap.
	SumAgentCostSince(ctx context.Context, customerID, agentID string, since time.Time) (float64, error)
}

// ── Policy denial store ──────────────────────────────────────

// DenialFilter selects a subset of policy denial records for listing.
type DenialFilter struct {
	CustomerID string
	Stage      models.DenialStage
	Since      *time.Time
	Limit      int
}

// PolicyDenialStore is an append-only log of denied requests.
type PolicyDenialStore interface {
	AppendPolicyDenial(ctx context.Context, record *models.PolicyDenialRecord) error
	ListPolicyDenials(ctx context.Context, filter DenialFilter) ([]models.PolicyDenialRecord, error)
}

// ── Approval store ───────────────────────────────────────────

// ErrAlreadyConsumed is returned by ConsumeApproval when the approval
// has already been used by a prior request.
var ErrAlreadyConsumed = &ErrNotFound{Entity: "approval", Key: "already_consumed"}

// ApprovalStore manages single-use approval records.
type ApprovalStore interface {
	// CreateApproval persists a new, unconsumed approval record.
	CreateApproval(ctx context.Context, record *models.ApprovalRecord) error

	// GetApproval returns an approval by ID.
	GetApproval(ctx context.Context, approvalID string) (*models.ApprovalRecord, error)

	// ConsumeApproval atomically marks an approval as consumed if and
	// only if it has not already been consumed — a compare-and-set on
	// consumed_at. Exactly one caller among N concurrent callers for the
	// same approval_id succeeds; all others receive ErrAlreadyConsumed.
	ConsumeApproval(ctx context.Context, approvalID, consumedBy string, at time.Time) (*models.ApprovalRecord, error)

	// ListApprovals returns up to limit approvals for a customer,
	// consumed and unconsumed alike.
	ListApprovals(ctx context.Context, customerID string, limit int) ([]models.ApprovalRecord, error)
}

// ── Subscription / Plan / HiredAgent stores ──────────────────

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	GetSubscriptionByCustomer(ctx context.Context, customerID string) (*models.Subscription, error)
	PutSubscription(ctx context.Context, sub *models.Subscription) error
}

type PlanStore interface {
	GetPlan(ctx context.Context, planID string) (*models.Plan, error)
	PutPlan(ctx context.Context, plan *models.Plan) error
}

type HiredAgentStore interface {
	GetHiredAgent(ctx context.Context, customerID, agentID string) (*models.HiredAgent, error)
	PutHiredAgent(ctx context.Context, hired *models.HiredAgent) error
}

// ── Deliverable store ─────────────────────────────────────────

type DeliverableStore interface {
	CreateDeliverable(ctx context.Context, d *models.Deliverable) error
	GetDeliverable(ctx context.Context, id string) (*models.Deliverable, error)
	UpdateDeliverable(ctx context.Context, d *models.Deliverable) error
	ListDeliverables(ctx context.Context, customerID string, limit int) ([]models.Deliverable, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
