// Package skills implements the certified skill executor (C10): given
// a CompiledAgentSpec, a SkillPlaybook, and validated input, it
// produces a canonical deliverable and per-channel variants, or — for
// trading skills — a deterministic order-intent payload gated behind
// approval and budget checks. Every external side effect is wrapped in
// PreToolUse/PostToolUse hook dispatches so the gates cannot be
// bypassed by a playbook step.
package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentmold/gateway/pkg/contracts"
	"github.com/agentmold/gateway/pkg/models"
)

// ChannelAdapter is a pure function mapping a canonical message to one
// channel's variant (LinkedIn, Instagram, Facebook, YouTube, WhatsApp, ...).
type ChannelAdapter func(canonical string) string

// Executor runs SkillPlaybooks against a hook bus, clock, and ID
// generator supplied at construction time.
type Executor struct {
	bus      contracts.HookBus
	clock    contracts.Clock
	ids      contracts.IDGenerator
	adapters map[string]ChannelAdapter
}

// NewExecutor builds a skill Executor with the given channel adapters
// registered by name.
func NewExecutor(bus contracts.HookBus, clock contracts.Clock, ids contracts.IDGenerator, adapters map[string]ChannelAdapter) *Executor {
	return &Executor{bus: bus, clock: clock, ids: ids, adapters: adapters}
}

// Execute runs the playbook's steps over input and returns the
// resulting deliverable in state "draft". It does not advance the
// deliverable past draft — review, approval, scheduling, and posting
// are driven by the gateway's review/publish handlers via Advance.
func (e *Executor) Execute(ctx context.Context, rc *models.RequestContext, playbook *models.SkillPlaybook, input map[string]interface{}) (*models.Deliverable, error) {
	pre := e.bus.Dispatch(ctx, contracts.HookPayload{
		Event:   contracts.HookPreSkill,
		AgentID: rc.AgentID,
		Data:    map[string]interface{}{"playbook_id": playbook.PlaybookID, "correlation_id": rc.CorrelationID},
	})
	if pre.Deny {
		return nil, fmt.Errorf("skill execution denied: %s", pre.Reason)
	}

	canonical, err := runSteps(playbook.Steps, input)
	if err != nil {
		return nil, err
	}

	variants := make(map[string]string)
	if channels, ok := input["channels"].([]string); ok {
		for _, ch := range channels {
			adapter, ok := e.adapters[ch]
			if !ok {
				continue
			}
			variants[ch] = adapter(canonical)
		}
	}

	now := e.clock.Now()
	deliverable := &models.Deliverable{
		DeliverableID: e.ids.NewID(),
		AgentID:       rc.AgentID,
		CustomerID:    rc.CustomerID,
		State:         models.DeliverableDraft,
		Canonical:     canonical,
		Variants:      variants,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	e.bus.Dispatch(ctx, contracts.HookPayload{
		Event:   contracts.HookPostSkill,
		AgentID: rc.AgentID,
		Data:    map[string]interface{}{"deliverable_id": deliverable.DeliverableID, "correlation_id": rc.CorrelationID},
	})

	return deliverable, nil
}

// Advance performs one deliverable state transition, wrapping the side
// effect (if any) in PreToolUse/PostToolUse dispatches. publish is
// called only when the transition lands on "posted".
func (e *Executor) Advance(ctx context.Context, rc *models.RequestContext, d *models.Deliverable, to models.DeliverableState, publish func() error) error {
	if !models.CanTransition(d.State, to) {
		return fmt.Errorf("illegal deliverable transition %s -> %s", d.State, to)
	}

	if to == models.DeliverablePosted {
		pre := e.bus.Dispatch(ctx, contracts.HookPayload{
			Event:   contracts.HookPreToolUse,
			AgentID: rc.AgentID,
			Data:    map[string]interface{}{"deliverable_id": d.DeliverableID, "tool": "publish"},
		})
		if pre.Deny {
			return fmt.Errorf("publish denied: %s", pre.Reason)
		}
		if publish != nil {
			if err := publish(); err != nil {
				d.State = models.DeliverableFailed
				d.UpdatedAt = e.clock.Now()
				return err
			}
		}
		e.bus.Dispatch(ctx, contracts.HookPayload{
			Event:   contracts.HookPostToolUse,
			AgentID: rc.AgentID,
			Data:    map[string]interface{}{"deliverable_id": d.DeliverableID, "tool": "publish"},
		})
	}

	d.State = to
	d.UpdatedAt = e.clock.Now()
	return nil
}

// runSteps deterministically reduces a playbook's steps over input,
// producing the canonical message. Step kinds are opaque to the
// gateway core beyond this dispatch table.
func runSteps(steps []models.PlaybookStep, input map[string]interface{}) (string, error) {
	canonical := ""
	for _, step := range steps {
		switch step.Kind {
		case "template":
			tmpl, _ := step.Params["template"].(string)
			canonical = fillTemplate(tmpl, input)
		case "append":
			suffix, _ := step.Params["text"].(string)
			canonical += suffix
		default:
			return "", fmt.Errorf("unknown playbook step kind %q", step.Kind)
		}
	}
	return canonical, nil
}

func fillTemplate(tmpl string, input map[string]interface{}) string {
	out := tmpl
	for k, v := range input {
		placeholder := "{{" + k + "}}"
		out = strings.ReplaceAll(out, placeholder, fmt.Sprintf("%v", v))
	}
	return out
}
