// Package contracts defines the service interfaces that separate the
// gateway's core pipeline from its pluggable components: storage, the
// external policy decision point, budget enforcement, and the hook bus.
//
// The gateway's handlers and pipeline stages depend only on these
// interfaces, so swapping the in-memory store for a transactional
// database, or the bundled fallback policy set for a real PDP, is a
// wiring change in pkg/server (buildServer), not a handler change.
package contracts

import (
	"context"
	"net/http"
	"time"

	"github.com/agentmold/gateway/internal/store"
	"github.com/agentmold/gateway/pkg/models"
)

// Store is a type alias for the internal Store interface, exposed in
// pkg/ so alternative backends can be wired without importing internal/.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Clock / ID generation ───────────────────────────────────

// Clock returns the current time. Production wiring uses the system
// clock; tests substitute a fixed or stepped clock.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for correlation IDs, decision
// IDs, and approval IDs.
type IDGenerator interface {
	NewID() string
}

// ── Policy Decision Point client ─────────────────────────────

// PolicyInput is the structured payload sent to the PDP for a decision.
type PolicyInput struct {
	CustomerID   string                 `json:"customer_id"`
	AgentID      string                 `json:"agent_id"`
	Action       string                 `json:"action"`
	Role         string                 `json:"role"`
	TrialMode    bool                   `json:"trial_mode"`
	Autopublish  bool                   `json:"autopublish"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
}

// PolicyDecision is the PDP's verdict for one PolicyInput.
type PolicyDecision struct {
	Allow       bool                   `json:"allow"`
	Reason      string                 `json:"reason,omitempty"`
	Obligations map[string]interface{} `json:"obligations,omitempty"`
}

// PDPClient evaluates a policy decision against an external policy
// decision point. Implementations MUST deny by default: any transport
// failure, timeout, or malformed response is treated as Allow=false
// with Reason="policy_unavailable", never as an implicit allow.
type PDPClient interface {
	Evaluate(ctx context.Context, policyPath string, input PolicyInput) (*PolicyDecision, error)
}

// ── Budget evaluator ──────────────────────────────────────────

// BudgetDecision is the result of a pre-call budget check.
type BudgetDecision struct {
	Allow  bool
	Reason string // one of the enumerated budget denial reasons, empty when Allow
}

// BudgetEvaluator checks a prospective usage event against trial,
// per-agent, and per-plan budget caps before the call it guards is made.
type BudgetEvaluator interface {
	Check(ctx context.Context, rc *models.RequestContext, estimatedCostUSD float64) (*BudgetDecision, error)
}

// ── Hook bus ──────────────────────────────────────────────────

// HookEvent names a point in an agent turn's lifecycle that hooks may
// observe or gate.
type HookEvent string

const (
	HookSessionStart HookEvent = "SessionStart"
	HookPreSkill     HookEvent = "PreSkill"
	HookPreToolUse   HookEvent = "PreToolUse"
	HookPostToolUse  HookEvent = "PostToolUse"
	HookPostSkill    HookEvent = "PostSkill"
	HookSessionEnd   HookEvent = "SessionEnd"
)

// HookPayload carries the event-specific data passed to subscribers.
type HookPayload struct {
	Event   HookEvent
	AgentID string
	Data    map[string]interface{}
}

// HookResult is returned by a subscriber. Pre* subscribers may set
// Deny=true to short-circuit the remaining chain and the guarded action.
type HookResult struct {
	Deny   bool
	Reason string
}

// HookSubscriber observes or gates one hook event.
type HookSubscriber func(ctx context.Context, payload HookPayload) HookResult

// HookBus dispatches lifecycle events to subscribers in registration
// order. For Pre* events, the first Deny=true result stops dispatch and
// is returned to the caller.
type HookBus interface {
	Subscribe(event HookEvent, sub HookSubscriber)
	Dispatch(ctx context.Context, payload HookPayload) HookResult
}

// ── Metering envelope verifier ───────────────────────────────

// MeteringVerifier validates the signed cost/token attestation carried
// on a request's X-Metering-* headers.
type MeteringVerifier interface {
	Verify(headers http.Header) (*models.MeteringEnvelope, error)
}

// ── Rate limiter ──────────────────────────────────────────────

// RateLimiter admits or rejects a request for a given tenant/tier key.
type RateLimiter interface {
	Allow(tier, customerID string) bool
}

// ── AgentSpec compiler ───────────────────────────────────────

// AgentSpecCompiler validates and compiles a raw AgentSpec into its
// runtime-ready form, along with the hook bus the compile step wired
// each dimension's subscribers into.
type AgentSpecCompiler interface {
	Compile(ctx context.Context, spec *models.AgentSpec) (*models.CompiledAgentSpec, HookBus, error)
}

// ── Skill executor ───────────────────────────────────────────

// SkillExecutor runs a certified SkillPlaybook against validated input
// and returns a canonical deliverable plus channel variants. rc carries
// the customer/agent/correlation identity the deliverable is stamped
// with and that hook subscribers observe.
type SkillExecutor interface {
	Execute(ctx context.Context, rc *models.RequestContext, playbook *models.SkillPlaybook, input map[string]interface{}) (*models.Deliverable, error)
	Advance(ctx context.Context, rc *models.RequestContext, d *models.Deliverable, to models.DeliverableState, publish func() error) error
}
