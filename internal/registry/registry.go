// Package registry holds the read-only, load-at-startup collections
// the gateway compiles and serves requests against: reference
// AgentSpecs (compiled once into CompiledAgentSpecs) and certified
// SkillPlaybooks keyed by family and skill key. Both collections are
// guarded by a sync.RWMutex: Load and Certify replace one entry in place
// under the write lock, and readers take the read lock, so readers and
// a reload block each other for the duration of the map access.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentmold/gateway/pkg/contracts"
	"github.com/agentmold/gateway/pkg/models"
)

// AgentEntry pairs a reference agent's raw spec with its compiled form
// and the hook bus the compiler wired for it.
type AgentEntry struct {
	Spec        *models.AgentSpec
	DisplayName string
	Compiled    *models.CompiledAgentSpec
	Bus         contracts.HookBus
}

// AgentRegistry holds compiled reference agents keyed by agent_id.
type AgentRegistry struct {
	mu      sync.RWMutex
	entries map[string]*AgentEntry
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{entries: make(map[string]*AgentEntry)}
}

// Load compiles spec with compiler and stores the result under
// spec.AgentID, replacing any prior entry for that ID.
func (r *AgentRegistry) Load(ctx context.Context, compiler contracts.AgentSpecCompiler, spec *models.AgentSpec, displayName string) error {
	compiled, bus, err := compiler.Compile(ctx, spec)
	if err != nil {
		return fmt.Errorf("compile agent %q: %w", spec.AgentID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[spec.AgentID] = &AgentEntry{Spec: spec, DisplayName: displayName, Compiled: compiled, Bus: bus}
	return nil
}

// Get returns the entry for agentID, or nil if unknown.
func (r *AgentRegistry) Get(agentID string) *AgentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[agentID]
}

// List returns every registered entry, in no particular order.
func (r *AgentRegistry) List() []*AgentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// playbookKey joins family and skill key into the registry's lookup key.
func playbookKey(family, skillKey string) string {
	return family + "/" + skillKey
}

// PlaybookRegistry holds certified SkillPlaybooks keyed by
// "family/skill_key".
type PlaybookRegistry struct {
	mu        sync.RWMutex
	playbooks map[string]*models.SkillPlaybook
}

// NewPlaybookRegistry creates an empty playbook registry.
func NewPlaybookRegistry() *PlaybookRegistry {
	return &PlaybookRegistry{playbooks: make(map[string]*models.SkillPlaybook)}
}

// Certify validates that pb carries both schemas and a QA rubric, then
// registers it under family/skillKey. Playbooks missing either are
// rejected outright per the load/certify invariant.
func (r *PlaybookRegistry) Certify(family, skillKey string, pb *models.SkillPlaybook) error {
	if pb.InputsSchema == nil || pb.OutputSchema == nil {
		return fmt.Errorf("playbook %q: missing inputs_schema or output_schema", pb.PlaybookID)
	}
	if len(pb.QARubric) == 0 {
		return fmt.Errorf("playbook %q: missing qa_rubric", pb.PlaybookID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.playbooks[playbookKey(family, skillKey)] = pb
	return nil
}

// Get returns the certified playbook for family/skillKey, or nil.
func (r *PlaybookRegistry) Get(family, skillKey string) *models.SkillPlaybook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.playbooks[playbookKey(family, skillKey)]
}
