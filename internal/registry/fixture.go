package registry

import (
	"fmt"

	"github.com/agentmold/gateway/pkg/models"
	"gopkg.in/yaml.v3"
)

// playbookFixture mirrors models.SkillPlaybook with yaml tags, so a
// certified playbook can be authored as a human-editable YAML fixture
// instead of a Go struct literal, the same way a deployer would hand
// the gateway a new playbook for review before certification.
type playbookFixture struct {
	PlaybookID          string                 `yaml:"playbook_id"`
	Version             string                 `yaml:"version"`
	InputsSchema        map[string]interface{} `yaml:"inputs_schema"`
	OutputSchema        map[string]interface{} `yaml:"output_schema"`
	QARubric            map[string]interface{} `yaml:"qa_rubric"`
	BoundaryConstraints map[string]string      `yaml:"boundary_constraints,omitempty"`
	Steps               []struct {
		Kind   string                 `yaml:"kind"`
		Params map[string]interface{} `yaml:"params,omitempty"`
	} `yaml:"steps"`
}

// ParsePlaybookYAML decodes a YAML-authored playbook fixture into a
// models.SkillPlaybook, ready to be passed to PlaybookRegistry.Certify.
func ParsePlaybookYAML(data []byte) (*models.SkillPlaybook, error) {
	var fx playbookFixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse playbook fixture: %w", err)
	}

	steps := make([]models.PlaybookStep, 0, len(fx.Steps))
	for _, s := range fx.Steps {
		steps = append(steps, models.PlaybookStep{Kind: s.Kind, Params: s.Params})
	}

	return &models.SkillPlaybook{
		PlaybookID:          fx.PlaybookID,
		Version:             fx.Version,
		InputsSchema:        fx.InputsSchema,
		OutputSchema:        fx.OutputSchema,
		QARubric:            fx.QARubric,
		BoundaryConstraints: fx.BoundaryConstraints,
		Steps:               steps,
	}, nil
}
