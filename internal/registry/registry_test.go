package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/agentmold/gateway/internal/registry"
	"github.com/agentmold/gateway/pkg/contracts"
	"github.com/agentmold/gateway/pkg/models"
)

var errCompile = errors.New("bad dimension config")

type stubCompiler struct {
	err error
}

func (c stubCompiler) Compile(ctx context.Context, spec *models.AgentSpec) (*models.CompiledAgentSpec, contracts.HookBus, error) {
	if c.err != nil {
		return nil, nil, c.err
	}
	return &models.CompiledAgentSpec{AgentID: spec.AgentID}, nil, nil
}

func TestAgentRegistry_LoadAndGet(t *testing.T) {
	r := registry.NewAgentRegistry()
	spec := &models.AgentSpec{AgentID: "marketing-beauty"}

	if err := r.Load(context.Background(), stubCompiler{}, spec, "Beauty Marketer"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	entry := r.Get("marketing-beauty")
	if entry == nil {
		t.Fatal("Get() = nil, want loaded entry")
	}
	if entry.DisplayName != "Beauty Marketer" {
		t.Errorf("Get().DisplayName = %q, want %q", entry.DisplayName, "Beauty Marketer")
	}
	if len(r.List()) != 1 {
		t.Errorf("List() len = %d, want 1", len(r.List()))
	}
}

func TestAgentRegistry_GetUnknownReturnsNil(t *testing.T) {
	r := registry.NewAgentRegistry()
	if r.Get("does-not-exist") != nil {
		t.Error("Get() for unregistered agent, want nil")
	}
}

func TestAgentRegistry_LoadPropagatesCompileError(t *testing.T) {
	r := registry.NewAgentRegistry()
	wantErr := errCompile
	if err := r.Load(context.Background(), stubCompiler{err: wantErr}, &models.AgentSpec{AgentID: "bad"}, ""); err == nil {
		t.Error("Load() error = nil, want compile error surfaced")
	}
}

func TestPlaybookRegistry_CertifyAndGet(t *testing.T) {
	pr := registry.NewPlaybookRegistry()
	pb := &models.SkillPlaybook{
		PlaybookID:   "marketing-default-v1",
		InputsSchema: map[string]interface{}{"type": "object"},
		OutputSchema: map[string]interface{}{"type": "object"},
		QARubric:     map[string]interface{}{"tone": "on-brand"},
	}

	if err := pr.Certify("marketing", "default", pb); err != nil {
		t.Fatalf("Certify() error = %v", err)
	}
	if got := pr.Get("marketing", "default"); got == nil || got.PlaybookID != "marketing-default-v1" {
		t.Errorf("Get() = %+v, want certified playbook", got)
	}
	if pr.Get("marketing", "unknown") != nil {
		t.Error("Get() for uncertified skill key, want nil")
	}
}

func TestPlaybookRegistry_CertifyRejectsMissingSchemas(t *testing.T) {
	pr := registry.NewPlaybookRegistry()
	pb := &models.SkillPlaybook{PlaybookID: "incomplete", QARubric: map[string]interface{}{"a": "b"}}
	if err := pr.Certify("marketing", "default", pb); err == nil {
		t.Error("Certify() error = nil, want error for missing inputs/output schema")
	}
}

func TestPlaybookRegistry_CertifyRejectsMissingQARubric(t *testing.T) {
	pr := registry.NewPlaybookRegistry()
	pb := &models.SkillPlaybook{
		PlaybookID:   "incomplete",
		InputsSchema: map[string]interface{}{"type": "object"},
		OutputSchema: map[string]interface{}{"type": "object"},
	}
	if err := pr.Certify("marketing", "default", pb); err == nil {
		t.Error("Certify() error = nil, want error for missing qa_rubric")
	}
}

func TestParsePlaybookYAML_RoundTripsStepsAndSchemas(t *testing.T) {
	yamlDoc := []byte(`
playbook_id: marketing-default-v1
version: "1.0.0"
inputs_schema:
  type: object
output_schema:
  type: object
qa_rubric:
  tone: on-brand
steps:
  - kind: template
    params:
      template: "Introducing {{theme}}."
  - kind: append
    params:
      text: " Shop now."
`)

	pb, err := registry.ParsePlaybookYAML(yamlDoc)
	if err != nil {
		t.Fatalf("ParsePlaybookYAML() error = %v", err)
	}
	if pb.PlaybookID != "marketing-default-v1" {
		t.Errorf("ParsePlaybookYAML().PlaybookID = %q, want %q", pb.PlaybookID, "marketing-default-v1")
	}
	if len(pb.Steps) != 2 || pb.Steps[0].Kind != "template" || pb.Steps[1].Kind != "append" {
		t.Errorf("ParsePlaybookYAML().Steps = %+v, unexpected shape", pb.Steps)
	}
}

func TestParsePlaybookYAML_MalformedYAMLErrors(t *testing.T) {
	if _, err := registry.ParsePlaybookYAML([]byte("not: [valid: yaml")); err == nil {
		t.Error("ParsePlaybookYAML() error = nil, want parse error for malformed YAML")
	}
}
