// Package handlers implements the gateway's HTTP handlers: running a
// reference agent, executing a certified skill directly, and the
// read-only admin query surface over usage events, policy denials,
// subscriptions and hired agents (there is no approval read endpoint).
// Every guarded handler runs requests through the shared
// gateway.Pipeline before touching the skill executor or stores.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentmold/gateway/internal/gateway"
	"github.com/agentmold/gateway/internal/ratelimit"
	"github.com/agentmold/gateway/internal/registry"
	"github.com/agentmold/gateway/internal/skills"
	"github.com/agentmold/gateway/internal/store"
	"github.com/agentmold/gateway/pkg/contracts"
	pkgmw "github.com/agentmold/gateway/pkg/middleware"
	"github.com/agentmold/gateway/pkg/models"
)

// Handlers wires the gateway's dependencies for its HTTP layer.
type Handlers struct {
	Store     contracts.Store
	Pipeline  *gateway.Pipeline
	Executor  *skills.Executor
	Metering  contracts.MeteringVerifier
	Agents    *registry.AgentRegistry
	Playbooks *registry.PlaybookRegistry
	Clock     contracts.Clock
	IDs       contracts.IDGenerator
	Schema    []byte
	Limiter   *ratelimit.Limiter
}

// runRequest is the body shape for both the reference-agent run path
// and the direct skill-execute path; unrecognized keys flow through to
// the skill as input.
type runRequest struct {
	CustomerID     string   `json:"customer_id"`
	TrialMode      bool     `json:"trial_mode"`
	PlanID         string   `json:"plan_id"`
	DoPublish      bool     `json:"do_publish"`
	Autopublish    bool     `json:"autopublish"`
	ApprovalID     string   `json:"approval_id"`
	IntentAction   string   `json:"intent_action"`
	Purpose        string   `json:"purpose"`
	CorrelationID  string   `json:"correlation_id"`
	Channels       []string `json:"channels"`
	EstimatedCost  float64  `json:"estimated_cost_usd"`
	BudgetOverride bool     `json:"budget_override"`
}

func decodeRunRequest(r *http.Request) (*runRequest, map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, nil, err
	}
	body, _ := json.Marshal(raw)
	var req runRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, err
	}
	if req.Channels != nil {
		raw["channels"] = req.Channels
	}
	return &req, raw, nil
}

// ── GET /reference-agents ────────────────────────────────────

func (h *Handlers) ListReferenceAgents(w http.ResponseWriter, r *http.Request) {
	entries := h.Agents.List()
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"agent_id":     e.Spec.AgentID,
			"display_name": e.DisplayName,
			"agent_type":   e.Spec.AgentType,
			"spec":         e.Spec,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"agents": out})
}

// ── POST /reference-agents/{agent_id}/run ────────────────────

func (h *Handlers) RunReferenceAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	entry := h.Agents.Get(agentID)
	if entry == nil {
		WriteProblem(w, http.StatusNotFound, "agent_not_found", "reference agent "+agentID+" is not registered", "", "")
		return
	}

	playbook := h.Playbooks.Get(string(entry.Spec.AgentType), "default")
	if playbook == nil {
		WriteProblem(w, http.StatusNotFound, "playbook_not_found", "no certified playbook for agent type "+string(entry.Spec.AgentType), "", "")
		return
	}

	h.runSkill(w, r, agentID, playbook)
}

// ── POST /agent-mold/skills/{family}/{skill_key}/execute ─────

func (h *Handlers) ExecuteSkill(w http.ResponseWriter, r *http.Request) {
	family := chi.URLParam(r, "family")
	skillKey := chi.URLParam(r, "skillKey")

	playbook := h.Playbooks.Get(family, skillKey)
	if playbook == nil {
		WriteProblem(w, http.StatusNotFound, "playbook_not_found", "no certified playbook for "+family+"/"+skillKey, "", "")
		return
	}

	h.runSkill(w, r, "", playbook)
}

// runSkill is the shared guarded execution path: decode body, finish
// assembling the RequestContext seeded by the correlation middleware,
// verify the metering envelope if present, run it through the
// authorization pipeline, execute the skill, and persist the
// resulting usage event / deliverable / approval consumption.
func (h *Handlers) runSkill(w http.ResponseWriter, r *http.Request, routeAgentID string, playbook *models.SkillPlaybook) {
	rc := pkgmw.GetRequestContext(r.Context())
	if rc == nil {
		WriteProblem(w, http.StatusInternalServerError, "pipeline_misconfigured", "missing request context", "", "")
		return
	}

	req, raw, err := decodeRunRequest(r)
	if err != nil {
		WriteProblem(w, http.StatusUnprocessableEntity, "validation_error", err.Error(), rc.CorrelationID, "")
		return
	}

	if req.CorrelationID != "" {
		rc.CorrelationID = req.CorrelationID
	}
	if req.CustomerID != "" {
		rc.CustomerID = req.CustomerID
	}
	rc.AgentID = routeAgentID
	if rc.AgentID == "" {
		if aid, ok := raw["agent_id"].(string); ok {
			rc.AgentID = aid
		}
	}
	rc.PlanID = req.PlanID
	rc.TrialMode = req.TrialMode
	rc.Purpose = req.Purpose
	rc.ApprovalID = req.ApprovalID
	rc.Autopublish = req.Autopublish
	rc.DoPublish = req.DoPublish
	rc.IntentAction = models.IntentAction(req.IntentAction)
	if rc.IntentAction == "" {
		rc.IntentAction = models.IntentRead
	}

	if req.BudgetOverride {
		if !hasRole(rc.Roles, ratelimit.TierGovernor) {
			h.denyDirect(w, r, rc, models.StageRBAC, "budget_override_requires_governor_role", http.StatusForbidden)
			return
		}
		rc.BudgetOverride = true
	}

	estimatedCost := req.EstimatedCost

	envelope, ok := h.verifyMetering(w, r, rc)
	if !ok {
		return
	}
	rc.Metering = envelope
	if envelope != nil {
		estimatedCost = envelope.CostUSD
	}

	if models.SideEffectActions[rc.IntentAction] || rc.DoPublish {
		if rc.ApprovalID == "" && !rc.Autopublish {
			h.denyDirect(w, r, rc, models.StageApproval, "approval_required", http.StatusForbidden)
			return
		}
	}

	if err := h.Pipeline.Authorize(r.Context(), rc, estimatedCost); err != nil {
		h.writeDenial(w, err, rc)
		return
	}

	if rc.ApprovalID != "" {
		approval, err := h.Store.GetApproval(r.Context(), rc.ApprovalID)
		if err != nil {
			h.denyDirect(w, r, rc, models.StageApproval, "approval_required", http.StatusForbidden)
			return
		}
		if approval.CustomerID != rc.CustomerID || approval.AgentID != rc.AgentID {
			h.denyDirect(w, r, rc, models.StageApproval, "approval_required", http.StatusForbidden)
			return
		}
		if _, err := h.Store.ConsumeApproval(r.Context(), rc.ApprovalID, rc.UserID, h.Clock.Now()); err != nil {
			status := http.StatusForbidden
			reason := "approval_required"
			if err == store.ErrAlreadyConsumed {
				status = http.StatusConflict
				reason = "approval_already_consumed"
			}
			h.denyDirect(w, r, rc, models.StageApproval, reason, status)
			return
		}
	}

	deliverable, err := h.Executor.Execute(r.Context(), rc, playbook, raw)
	if err != nil {
		WriteProblem(w, http.StatusUnprocessableEntity, "validation_error", err.Error(), rc.CorrelationID, rc.DecisionID)
		return
	}

	published := false
	if rc.DoPublish || rc.IntentAction == models.IntentPlaceOrder || rc.IntentAction == models.IntentClosePosition {
		if err := h.Executor.Advance(r.Context(), rc, deliverable, models.DeliverableInReview, nil); err == nil {
			_ = h.Executor.Advance(r.Context(), rc, deliverable, models.DeliverableApproved, nil)
			if err := h.Executor.Advance(r.Context(), rc, deliverable, models.DeliverablePosted, nil); err == nil {
				published = true
			}
		}
	}
	_ = h.Store.CreateDeliverable(r.Context(), deliverable)

	h.recordUsage(r, rc, estimatedCost)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id":       rc.AgentID,
		"agent_type":     entryAgentType(h, rc.AgentID),
		"status":         deliverable.State,
		"correlation_id": rc.CorrelationID,
		"draft":          deliverable.Canonical,
		"variants":       deliverable.Variants,
		"published":      published,
	})
}

// hasRole reports whether role appears among roles (a request's identity
// plus group memberships, as populated by the customer-resolution stage).
func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func entryAgentType(h *Handlers, agentID string) models.AgentType {
	if e := h.Agents.Get(agentID); e != nil {
		return e.Spec.AgentType
	}
	return ""
}

func (h *Handlers) verifyMetering(w http.ResponseWriter, r *http.Request, rc *models.RequestContext) (*models.MeteringEnvelope, bool) {
	if h.Metering == nil || r.Header.Get("X-Metering-Signature") == "" {
		return nil, true
	}
	envelope, err := h.Metering.Verify(r.Header)
	if err != nil {
		h.denyDirect(w, r, rc, models.StageBudget, "metering_envelope_invalid", http.StatusTooManyRequests)
		return nil, false
	}
	return envelope, true
}

func (h *Handlers) recordUsage(r *http.Request, rc *models.RequestContext, costUSD float64) {
	event := &models.UsageEvent{
		ID:             h.IDs.NewID(),
		EventType:      models.UsageSkillExecution,
		Timestamp:      h.Clock.Now(),
		CorrelationID:  rc.CorrelationID,
		CustomerID:     rc.CustomerID,
		AgentID:        rc.AgentID,
		Purpose:        rc.Purpose,
		PlanID:         rc.PlanID,
		CostUSD:        costUSD,
		BudgetOverride: rc.BudgetOverride,
	}
	if rc.Metering != nil {
		event.TokensIn = rc.Metering.TokensIn
		event.TokensOut = rc.Metering.TokensOut
		event.Model = rc.Metering.Model
		event.CacheHit = rc.Metering.CacheHit
		event.CostUSD = rc.Metering.CostUSD
	}
	_ = h.Store.AppendUsageEvent(r.Context(), event)
}

func (h *Handlers) denyDirect(w http.ResponseWriter, r *http.Request, rc *models.RequestContext, stage models.DenialStage, reason string, status int) {
	rc.DecisionID = h.IDs.NewID()
	record := &models.PolicyDenialRecord{
		ID:            h.IDs.NewID(),
		Timestamp:     h.Clock.Now(),
		CorrelationID: rc.CorrelationID,
		DecisionID:    rc.DecisionID,
		AgentID:       rc.AgentID,
		CustomerID:    rc.CustomerID,
		Stage:         stage,
		Action:        string(rc.IntentAction),
		Reason:        reason,
		Path:          r.URL.Path,
	}
	_ = h.Store.AppendPolicyDenial(r.Context(), record)
	WriteProblem(w, status, reason, "", rc.CorrelationID, rc.DecisionID)
}

func (h *Handlers) writeDenial(w http.ResponseWriter, err error, rc *models.RequestContext) {
	denial, ok := err.(*gateway.Denial)
	if !ok {
		WriteProblem(w, http.StatusInternalServerError, "internal_error", err.Error(), rc.CorrelationID, rc.DecisionID)
		return
	}
	status := statusForDenial(denial)
	WriteProblem(w, status, denial.Reason, "", rc.CorrelationID, rc.DecisionID)
}

func statusForDenial(d *gateway.Denial) int {
	switch d.Stage {
	case models.StageRBAC, models.StageApproval:
		return http.StatusForbidden
	case models.StageBudget:
		return http.StatusTooManyRequests
	default:
		if d.Reason == "policy_unavailable" {
			return http.StatusServiceUnavailable
		}
		return http.StatusForbidden
	}
}

// ── GET /usage-events ─────────────────────────────────────────

func (h *Handlers) ListUsageEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.UsageFilter{
		CustomerID: q.Get("customer_id"),
		AgentID:    q.Get("agent_id"),
		Limit:      atoiOr(q.Get("limit"), 100),
		Since:      parseTime(q.Get("since")),
		Until:      parseTime(q.Get("until")),
	}
	events, err := h.Store.ListUsageEvents(r.Context(), filter)
	if err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "audit_unavailable", err.Error(), "", "")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// ── GET /usage-events/aggregate ───────────────────────────────

func (h *Handlers) AggregateUsageEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customerID := q.Get("customer_id")
	agentID := q.Get("agent_id")
	bucket := q.Get("bucket")
	if bucket == "" {
		bucket = "day"
	}

	now := h.Clock.Now().UTC()
	var since time.Time
	switch bucket {
	case "month":
		since = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	var total float64
	var err error
	if agentID != "" {
		total, err = h.Store.SumAgentCostSince(r.Context(), customerID, agentID, since)
	} else {
		total, err = h.Store.SumCostSince(r.Context(), customerID, since)
	}
	if err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "audit_unavailable", err.Error(), "", "")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id": customerID,
		"agent_id":    agentID,
		"bucket":      bucket,
		"since":       since,
		"cost_usd":    total,
	})
}

// ── GET /audit/policy-denials ─────────────────────────────────

func (h *Handlers) ListPolicyDenials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DenialFilter{
		CustomerID: q.Get("customer_id"),
		Limit:      atoiOr(q.Get("limit"), 100),
		Since:      parseTime(q.Get("since")),
	}
	if stage := q.Get("stage"); stage != "" {
		filter.Stage = models.DenialStage(stage)
	}
	records, err := h.Store.ListPolicyDenials(r.Context(), filter)
	if err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "audit_unavailable", err.Error(), "", "")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"denials": records})
}

// ── GET /agent-mold/schema/agent-spec ─────────────────────────

func (h *Handlers) AgentSpecSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.Schema)
}

// ── GET /api/v1/subscriptions/{customer_id} ───────────────────

func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	sub, err := h.Store.GetSubscriptionByCustomer(r.Context(), customerID)
	if err != nil {
		WriteProblem(w, http.StatusNotFound, "subscription_not_found", err.Error(), "", "")
		return
	}
	WriteJSON(w, http.StatusOK, sub)
}

// ── GET /api/v1/hired-agents/{customer_id}/{agent_id} ─────────

func (h *Handlers) GetHiredAgentHandler(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	agentID := chi.URLParam(r, "agentID")
	hired, err := h.Store.GetHiredAgent(r.Context(), customerID, agentID)
	if err != nil {
		WriteProblem(w, http.StatusNotFound, "hired_agent_not_found", err.Error(), "", "")
		return
	}
	WriteJSON(w, http.StatusOK, hired)
}

// ── POST /api/v1/admin/rate-limits/{tier} ─────────────────────

func (h *Handlers) AdminSetRateLimit(w http.ResponseWriter, r *http.Request) {
	identity := pkgmw.GetIdentity(r.Context())
	if identity == nil || identity.Role != "platform_admin" {
		WriteProblem(w, http.StatusForbidden, "permission_denied", "rate-limit overrides require the platform_admin role", "", "")
		return
	}

	tier := chi.URLParam(r, "tier")
	var body struct {
		RequestsPerHour int `json:"requests_per_hour"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RequestsPerHour <= 0 {
		WriteProblem(w, http.StatusUnprocessableEntity, "validation_error", "requests_per_hour must be a positive integer", "", "")
		return
	}

	ratelimit.TierRatesPerHour[tier] = body.RequestsPerHour
	WriteJSON(w, http.StatusOK, map[string]interface{}{"tier": tier, "requests_per_hour": body.RequestsPerHour})
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
