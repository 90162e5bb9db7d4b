package policy

import (
	"context"

	"github.com/agentmold/gateway/pkg/contracts"
)

// FallbackRule evaluates one named policy without an external PDP.
type FallbackRule func(input contracts.PolicyInput) contracts.PolicyDecision

// FallbackSet is the bundled, in-process policy set used when no
// external PDP is configured. It implements contracts.PDPClient so the
// gateway can run with zero external dependencies in development.
//
// It covers exactly the core-required policies: trial_mode/allow,
// rbac/allow, approval/required_for_action, autopublish/allow. Any
// other policy path is deny-by-default, consistent with the PDP
// client's own "L0" invariant.
type FallbackSet struct {
	rules map[string]FallbackRule
}

// NewFallbackSet builds the default bundled policy set.
func NewFallbackSet() *FallbackSet {
	return &FallbackSet{
		rules: map[string]FallbackRule{
			"trial_mode/allow":             allowTrialMode,
			"rbac/allow":                   allowRBAC,
			"approval/required_for_action": requireApprovalForAction,
			"autopublish/allow":            allowAutopublish,
		},
	}
}

// Register overrides or adds a named fallback rule.
func (s *FallbackSet) Register(policyPath string, rule FallbackRule) {
	s.rules[policyPath] = rule
}

func (s *FallbackSet) Evaluate(_ context.Context, policyPath string, input contracts.PolicyInput) (*contracts.PolicyDecision, error) {
	rule, ok := s.rules[policyPath]
	if !ok {
		return &contracts.PolicyDecision{Allow: false, Reason: "policy_unavailable"}, nil
	}
	decision := rule(input)
	return &decision, nil
}

func allowTrialMode(input contracts.PolicyInput) contracts.PolicyDecision {
	if !input.TrialMode {
		return contracts.PolicyDecision{Allow: true}
	}
	if input.Action == "place_order" || input.Action == "close_position" {
		return contracts.PolicyDecision{Allow: false, Reason: "trial_production_write_blocked"}
	}
	return contracts.PolicyDecision{Allow: true}
}

// routePermissions is the per-route required-permission table used by
// the bundled RBAC check; roles not listed for an action are denied.
var routePermissions = map[string][]string{
	"read":    {"customer_admin", "customer_operator", "platform_admin", "service"},
	"write":   {"customer_admin", "customer_operator", "platform_admin", "service"},
	"execute": {"customer_admin", "platform_admin", "service"},
	"publish": {"customer_admin", "platform_admin"},
	"send":    {"customer_admin", "platform_admin"},
	"post":    {"customer_admin", "platform_admin"},
}

func allowRBAC(input contracts.PolicyInput) contracts.PolicyDecision {
	allowed, ok := routePermissions[input.Action]
	if !ok {
		// Unlisted actions (trading/place_order etc.) fall through to
		// the explicit role check below.
		allowed = []string{"customer_admin", "platform_admin"}
	}
	for _, role := range allowed {
		if input.Role == role {
			return contracts.PolicyDecision{Allow: true}
		}
	}
	return contracts.PolicyDecision{Allow: false, Reason: "permission_denied"}
}

func requireApprovalForAction(input contracts.PolicyInput) contracts.PolicyDecision {
	if sideEffectActions[input.Action] {
		return contracts.PolicyDecision{Allow: false, Reason: "approval_required", Obligations: map[string]interface{}{
			"require_approval": true,
		}}
	}
	return contracts.PolicyDecision{Allow: true}
}

var sideEffectActions = map[string]bool{
	"publish":        true,
	"send":           true,
	"post":           true,
	"place_order":    true,
	"close_position": true,
}

func allowAutopublish(input contracts.PolicyInput) contracts.PolicyDecision {
	if !input.Autopublish {
		return contracts.PolicyDecision{Allow: true}
	}
	// Bundled default: autopublish is opt-in per customer via an
	// obligation flag an external PDP would set; with no PDP configured
	// it is conservatively denied.
	return contracts.PolicyDecision{Allow: false, Reason: "autopublish_not_allowed"}
}
