// Package models holds the shared value types for the enforcement gateway
// and agent mold: AgentSpec documents, request context, the append-only
// audit entities, and the subscription/plan/trial entities they enforce
// against.
package models

import "time"

// ── AgentSpec / CompiledAgentSpec ───────────────────────────

// AgentType enumerates the kinds of agent a blueprint can describe.
type AgentType string

const (
	AgentTypeMarketing AgentType = "marketing"
	AgentTypeTrading   AgentType = "trading"
	AgentTypeTutor     AgentType = "tutor"
)

// AgentSpec is the declarative blueprint submitted to the compiler.
// Immutable once loaded; dimensions map a dimension name to either a
// configuration object or an explicit nil (meaning "present but unused").
type AgentSpec struct {
	AgentID    string                 `json:"agent_id"`
	AgentType  AgentType              `json:"agent_type"`
	Version    string                 `json:"version"`
	Dimensions map[string]interface{} `json:"dimensions"`
}

// MaterializedDimension is one entry of a CompiledAgentSpec's runtime bundle.
type MaterializedDimension struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Present bool   `json:"present"`
}

// CompiledAgentSpec is the compiler's output: the source AgentSpec's
// identity fields plus the materialized runtime bundle. The hook bus
// wired to it is returned alongside it by Compile, not stored here.
type CompiledAgentSpec struct {
	AgentID       string                  `json:"agent_id"`
	AgentType     AgentType               `json:"agent_type"`
	Version       string                  `json:"version"`
	RuntimeBundle []MaterializedDimension `json:"runtime_bundle"`
}

// ── SkillPlaybook ────────────────────────────────────────────

// SkillPlaybook is a certified, versioned deterministic reducer over a
// skill's declared input/output schemas.
type SkillPlaybook struct {
	PlaybookID         string                 `json:"playbook_id"`
	Version            string                 `json:"version"`
	InputsSchema       map[string]interface{} `json:"inputs_schema"`
	OutputSchema       map[string]interface{} `json:"output_schema"`
	QARubric           map[string]interface{} `json:"qa_rubric"`
	BoundaryConstraints map[string]string     `json:"boundary_constraints,omitempty"`
	Steps              []PlaybookStep         `json:"steps"`
}

// PlaybookStep is one deterministic reduction step. Opaque to the core
// beyond its kind and parameters — the executor dispatches on Kind.
type PlaybookStep struct {
	Kind   string                 `json:"kind"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// ── Request context ──────────────────────────────────────────

// IntentAction is the declared kind of side effect a request carries.
type IntentAction string

const (
	IntentRead          IntentAction = "read"
	IntentWrite         IntentAction = "write"
	IntentExecute       IntentAction = "execute"
	IntentPublish       IntentAction = "publish"
	IntentSend          IntentAction = "send"
	IntentPost          IntentAction = "post"
	IntentPlaceOrder    IntentAction = "place_order"
	IntentClosePosition IntentAction = "close_position"
)

// SideEffectActions are the intent actions that require an approval.
var SideEffectActions = map[IntentAction]bool{
	IntentPublish:       true,
	IntentSend:          true,
	IntentPost:          true,
	IntentPlaceOrder:    true,
	IntentClosePosition: true,
}

// RequestContext is the transient, per-request state threaded through
// the gateway pipeline.
type RequestContext struct {
	CorrelationID string
	DecisionID    string
	CustomerID    string
	UserID        string
	Roles         []string
	AgentID       string
	PlanID        string
	TrialMode     bool
	Purpose       string
	IntentAction  IntentAction
	ApprovalID    string
	Autopublish   bool
	DoPublish     bool

	// Metering — the verified envelope when one was presented, nil
	// otherwise (the handler then uses the request body's estimated cost).
	Metering         *MeteringEnvelope
	BudgetOverride   bool
}

// ── Approval record ──────────────────────────────────────────

type ApprovalScope string

const (
	ApprovalScopePerTradeAction ApprovalScope = "per_trade_action"
	ApprovalScopePerPost        ApprovalScope = "per_post"
)

// ApprovalRecord is an append-only, single-use approval token.
type ApprovalRecord struct {
	ApprovalID   string        `json:"approval_id"`
	CustomerID   string        `json:"customer_id"`
	AgentID      string        `json:"agent_id"`
	DeliverableID string       `json:"deliverable_id"`
	Scope        ApprovalScope `json:"scope"`
	GrantedAt    time.Time     `json:"granted_at"`
	SingleUse    bool          `json:"single_use"`
	ConsumedAt   *time.Time    `json:"consumed_at,omitempty"`
	ConsumedBy   string        `json:"consumed_by,omitempty"`
}

// Consumed reports whether the approval has already been used.
func (a *ApprovalRecord) Consumed() bool {
	return a.ConsumedAt != nil
}

// ── UsageEvent ────────────────────────────────────────────────

type UsageEventType string

const (
	UsageBudgetPrecheck  UsageEventType = "budget_precheck"
	UsageSkillExecution  UsageEventType = "skill_execution"
	UsagePublishAction   UsageEventType = "publish_action"
	UsageTradeAction     UsageEventType = "trade_action"
)

// UsageEvent is an append-only record of a successful, budget-relevant call.
type UsageEvent struct {
	ID             string         `json:"id"`
	EventType      UsageEventType `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"` // always UTC
	CorrelationID  string         `json:"correlation_id"`
	CustomerID     string         `json:"customer_id"`
	AgentID        string         `json:"agent_id"`
	Purpose        string         `json:"purpose,omitempty"`
	Model          string         `json:"model,omitempty"`
	CacheHit       bool           `json:"cache_hit,omitempty"`
	TokensIn       int64          `json:"tokens_in"`
	TokensOut      int64          `json:"tokens_out"`
	CostUSD        float64        `json:"cost_usd"`
	PlanID         string         `json:"plan_id,omitempty"`
	BudgetOverride bool           `json:"budget_override,omitempty"`
}

// ── PolicyDenialRecord ───────────────────────────────────────

type DenialStage string

const (
	StageAuth     DenialStage = "auth"
	StageRBAC     DenialStage = "rbac"
	StagePolicy   DenialStage = "policy"
	StageBudget   DenialStage = "budget"
	StageApproval DenialStage = "approval"
)

// PolicyDenialRecord is an append-only record of a denied request.
type PolicyDenialRecord struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	DecisionID    string                 `json:"decision_id"`
	AgentID       string                 `json:"agent_id,omitempty"`
	CustomerID    string                 `json:"customer_id,omitempty"`
	Stage         DenialStage            `json:"stage"`
	Action        string                 `json:"action"`
	Reason        string                 `json:"reason"`
	Path          string                 `json:"path"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// ── MeteringEnvelope ─────────────────────────────────────────

// MeteringEnvelope is the verified, signed cost/token attestation derived
// from the X-Metering-* headers.
type MeteringEnvelope struct {
	Timestamp     time.Time
	CorrelationID string
	TokensIn      int64
	TokensOut     int64
	Model         string
	CacheHit      bool
	CostUSD       float64
	Signature     string
}

// ── Subscription / Plan / Trial ─────────────────────────────

type SubscriptionStatus string

const (
	SubscriptionPendingPayment     SubscriptionStatus = "pending_payment"
	SubscriptionActive             SubscriptionStatus = "active"
	SubscriptionCancelAtPeriodEnd  SubscriptionStatus = "cancel_at_period_end"
	SubscriptionEnded              SubscriptionStatus = "ended"
	SubscriptionPaymentFailed      SubscriptionStatus = "payment_failed"
)

// Plan is a billing plan with a monthly budget cap.
type Plan struct {
	PlanID              string  `json:"plan_id"`
	MonthlyBudgetCapUSD float64 `json:"monthly_budget_cap_usd"`
}

// Subscription binds a customer to a plan.
type Subscription struct {
	SubscriptionID string             `json:"subscription_id"`
	CustomerID     string             `json:"customer_id"`
	PlanID         string             `json:"plan_id"`
	Status         SubscriptionStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
}

type TrialStatus string

const (
	TrialNotStarted       TrialStatus = "not_started"
	TrialActive           TrialStatus = "active"
	TrialEndedConverted   TrialStatus = "ended_converted"
	TrialEndedNotConverted TrialStatus = "ended_not_converted"
)

// HiredAgent is a customer's configured instance of an agent under a
// subscription, including its trial lifecycle state.
type HiredAgent struct {
	SubscriptionID  string      `json:"subscription_id"`
	AgentID         string      `json:"agent_id"`
	CustomerID      string      `json:"customer_id"`
	Configured      bool        `json:"configured"`
	GoalsCompleted  bool        `json:"goals_completed"`
	TrialStartAt    *time.Time  `json:"trial_start_at,omitempty"`
	TrialEndAt      *time.Time  `json:"trial_end_at,omitempty"`
	TrialStatus     TrialStatus `json:"trial_status"`
}

// ReadyForTrial reports whether the invariant in spec.md §3 is satisfied:
// trial_start_at may only be set when subscription is active AND the
// agent is configured AND its onboarding goals are completed.
func (h *HiredAgent) ReadyForTrial(sub *Subscription) bool {
	return sub != nil && sub.Status == SubscriptionActive && h.Configured && h.GoalsCompleted
}

// ── Deliverable state machine (C10) ─────────────────────────

type DeliverableState string

const (
	DeliverableDraft     DeliverableState = "draft"
	DeliverableInReview  DeliverableState = "in_review"
	DeliverableApproved  DeliverableState = "approved"
	DeliverableRejected  DeliverableState = "rejected"
	DeliverableScheduled DeliverableState = "scheduled"
	DeliverablePosted    DeliverableState = "posted"
	DeliverableFailed    DeliverableState = "failed"
)

// Deliverable is a canonical skill output plus its per-channel variants
// and its state-machine position.
type Deliverable struct {
	DeliverableID string                 `json:"deliverable_id"`
	AgentID       string                 `json:"agent_id"`
	CustomerID    string                 `json:"customer_id"`
	State         DeliverableState       `json:"state"`
	Canonical     string                 `json:"canonical"`
	Variants      map[string]string      `json:"variants,omitempty"`
	ApprovalID    string                 `json:"approval_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// allowed transitions, keyed by from-state, listing permitted to-states.
var deliverableTransitions = map[DeliverableState][]DeliverableState{
	DeliverableDraft:     {DeliverableInReview},
	DeliverableInReview:  {DeliverableApproved, DeliverableRejected},
	DeliverableApproved:  {DeliverableScheduled, DeliverablePosted},
	DeliverableScheduled: {DeliverablePosted, DeliverableFailed},
	DeliverableRejected:  {},
	DeliverablePosted:    {},
	DeliverableFailed:    {},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// deliverable state transition.
func CanTransition(from, to DeliverableState) bool {
	for _, allowed := range deliverableTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
