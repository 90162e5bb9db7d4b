package server

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/agentmold/gateway/internal/agentspec"
	"github.com/agentmold/gateway/internal/registry"
	"github.com/agentmold/gateway/internal/skills"
	"github.com/agentmold/gateway/pkg/contracts"
	"github.com/agentmold/gateway/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed playbooks/*.yaml
var playbookFixtures embed.FS

// agentSpecSchemaJSON is served at GET /agent-mold/schema/agent-spec so
// callers can validate an AgentSpec document before submitting it.
var agentSpecSchemaJSON = []byte(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "AgentSpec",
  "type": "object",
  "required": ["agent_id", "agent_type", "version", "dimensions"],
  "properties": {
    "agent_id":   {"type": "string", "minLength": 1},
    "agent_type": {"type": "string", "enum": ["marketing", "trading", "tutor"]},
    "version":    {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+$"},
    "dimensions": {"type": "object"}
  }
}`)

// compileAgentSpecSchema compiles agentSpecSchemaJSON into the Schema
// the agentspec.Compiler validates every AgentSpec against before
// dimension resolution. Compiled once at startup and reused for every
// Compile call.
func compileAgentSpecSchema() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("agent-spec.json", string(agentSpecSchemaJSON))
}

// defaultMaterializers returns the built-in dimension-to-materializer
// table: policy, budget, trial, and integrations are the dimensions a
// CompiledAgentSpec's runtime_bundle always carries, configured or
// explicitly null.
func defaultMaterializers() map[string]agentspec.Materializer {
	return map[string]agentspec.Materializer{
		"policy":       materializePolicy,
		"budget":       materializeBudget,
		"trial":        materializeTrial,
		"integrations": materializeIntegrations,
	}
}

// materializePolicy wires a PostSkill observer that logs the custom
// policy tag a dimension config may carry, for agents whose industry
// vertical layers extra obligations on top of the gateway's own
// RBAC/policy stages.
func materializePolicy(bus contracts.HookBus, config interface{}) error {
	if config == nil {
		return nil
	}
	cfg, ok := config.(map[string]interface{})
	if !ok {
		return fmt.Errorf("policy dimension: expected object config")
	}
	tag, _ := cfg["tag"].(string)
	bus.Subscribe(contracts.HookPostSkill, func(_ context.Context, payload contracts.HookPayload) contracts.HookResult {
		log.Debug().Str("policy_tag", tag).Str("agent_id", payload.AgentID).Msg("policy dimension observed skill completion")
		return contracts.HookResult{}
	})
	return nil
}

// materializeBudget wires a PreSkill observer that logs skill start for
// an agent declaring a budget dimension; it never denies. The gateway's
// own budget.Evaluator is the actual enforcement point, this is
// agent-local telemetry layered on top.
func materializeBudget(bus contracts.HookBus, config interface{}) error {
	if config == nil {
		return nil
	}
	bus.Subscribe(contracts.HookPreSkill, func(_ context.Context, payload contracts.HookPayload) contracts.HookResult {
		log.Debug().Str("agent_id", payload.AgentID).Msg("budget dimension observed skill start")
		return contracts.HookResult{}
	})
	return nil
}

// materializeTrial wires a SessionStart observer recording that the
// agent runs under a trial-aware dimension; the actual trial-mode
// policy/budget enforcement happens in the gateway pipeline.
func materializeTrial(bus contracts.HookBus, config interface{}) error {
	bus.Subscribe(contracts.HookSessionStart, func(_ context.Context, payload contracts.HookPayload) contracts.HookResult {
		log.Debug().Str("agent_id", payload.AgentID).Msg("trial dimension session start")
		return contracts.HookResult{}
	})
	return nil
}

// materializeIntegrations wires a PostToolUse observer for agents that
// declare external collaborators (social channels, brokerage APIs);
// the adapter call itself happens in the skill executor's channel
// adapters, this dimension only observes.
func materializeIntegrations(bus contracts.HookBus, config interface{}) error {
	if config == nil {
		return nil
	}
	bus.Subscribe(contracts.HookPostToolUse, func(_ context.Context, payload contracts.HookPayload) contracts.HookResult {
		log.Debug().Str("agent_id", payload.AgentID).Msg("integrations dimension observed tool use")
		return contracts.HookResult{}
	})
	return nil
}

// defaultChannelAdapters returns the bundled pure canonical→variant
// functions for the marketing skill family's requested channels.
func defaultChannelAdapters() map[string]skills.ChannelAdapter {
	return map[string]skills.ChannelAdapter{
		"linkedin":  func(canonical string) string { return canonical },
		"instagram": func(canonical string) string { return truncate(canonical, 2200) + "\n#sponsored" },
		"facebook":  func(canonical string) string { return canonical },
		"youtube":   func(canonical string) string { return truncate(canonical, 5000) },
		"whatsapp":  func(canonical string) string { return truncate(canonical, 1024) },
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}

// seedCertifiedCatalog compiles the bundled reference agents and
// certifies their default playbooks at startup. A production
// deployment replaces this with a database-backed catalog load; the
// in-process seed keeps local/dev runs zero-configuration.
func seedCertifiedCatalog(ctx context.Context, compiler contracts.AgentSpecCompiler, agents *registry.AgentRegistry, playbooks *registry.PlaybookRegistry) {
	specs := []struct {
		spec        *models.AgentSpec
		displayName string
	}{
		{
			spec: &models.AgentSpec{
				AgentID:   "marketing-beauty",
				AgentType: models.AgentTypeMarketing,
				Version:   "1.0.0",
				Dimensions: map[string]interface{}{
					"policy":       map[string]interface{}{"tag": "marketing_beauty_vertical"},
					"integrations": map[string]interface{}{"channels": []interface{}{"linkedin", "instagram", "facebook", "youtube", "whatsapp"}},
					"budget":       nil,
					"trial":        nil,
				},
			},
			displayName: "Beauty Brand Social Publisher",
		},
		{
			spec: &models.AgentSpec{
				AgentID:   "trading-desk",
				AgentType: models.AgentTypeTrading,
				Version:   "1.0.0",
				Dimensions: map[string]interface{}{
					"policy":       map[string]interface{}{"tag": "trading_desk_vertical"},
					"budget":       map[string]interface{}{"per_trade_cap_usd": 500.0},
					"integrations": nil,
					"trial":        nil,
				},
			},
			displayName: "Equities Order-Intent Desk",
		},
		{
			spec: &models.AgentSpec{
				AgentID:   "tutor-algebra",
				AgentType: models.AgentTypeTutor,
				Version:   "1.0.0",
				Dimensions: map[string]interface{}{
					"trial":        map[string]interface{}{"max_sessions_per_day": 3},
					"policy":       nil,
					"budget":       nil,
					"integrations": nil,
				},
			},
			displayName: "Algebra Practice Tutor",
		},
	}

	for _, entry := range specs {
		if err := agents.Load(ctx, compiler, entry.spec, entry.displayName); err != nil {
			log.Error().Err(err).Str("agent_id", entry.spec.AgentID).Msg("failed to compile bundled reference agent")
			continue
		}
		log.Info().Str("agent_id", entry.spec.AgentID).Msg("reference agent compiled")
	}

	certifyDefaultPlaybooks(playbooks)
}

// certifyDefaultPlaybooks loads each family's default playbook from its
// bundled YAML fixture and certifies it. A deployer reviewing a new
// playbook before certification edits the same YAML shape; the gateway
// never executes a playbook that hasn't passed Certify.
func certifyDefaultPlaybooks(playbooks *registry.PlaybookRegistry) {
	families := []struct {
		family string
		file   string
	}{
		{family: "marketing", file: "playbooks/marketing-default.yaml"},
		{family: "trading", file: "playbooks/trading-default.yaml"},
		{family: "tutor", file: "playbooks/tutor-default.yaml"},
	}

	for _, f := range families {
		data, err := playbookFixtures.ReadFile(f.file)
		if err != nil {
			log.Error().Err(err).Str("file", f.file).Msg("failed to read bundled playbook fixture")
			continue
		}
		pb, err := registry.ParsePlaybookYAML(data)
		if err != nil {
			log.Error().Err(err).Str("file", f.file).Msg("failed to parse bundled playbook fixture")
			continue
		}
		if err := playbooks.Certify(f.family, "default", pb); err != nil {
			log.Error().Err(err).Str("family", f.family).Msg("failed to certify bundled playbook")
			continue
		}
		log.Info().Str("family", f.family).Str("skill_key", "default").Msg("playbook certified")
	}
}
