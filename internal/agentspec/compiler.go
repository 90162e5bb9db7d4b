// Package agentspec compiles a raw AgentSpec document into a
// CompiledAgentSpec with a materialized runtime bundle and a hook bus
// wired with the subscribers each dimension contributes.
//
// Dimension resolution uses a declarative table: each dimension name
// maps to a materializer function, resolved by exact name match;
// unknown names are rejected rather than silently ignored. Dimension
// versions are not checked, and dimensions are materialized in Go map
// iteration order, so the order of the runtime bundle and of hook
// registration across dimensions is not defined.
package agentspec

import (
	"context"
	"fmt"

	"github.com/agentmold/gateway/internal/hooks"
	"github.com/agentmold/gateway/pkg/contracts"
	"github.com/agentmold/gateway/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Materializer turns a dimension's declared configuration into a set of
// hook subscribers registered on the compiled spec's bus. It receives
// nil config when the dimension is present-but-unused (explicit null)
// or recognized-but-undeclared.
type Materializer func(bus contracts.HookBus, config interface{}) error

// Compiler validates and compiles AgentSpec documents.
type Compiler struct {
	schema        *jsonschema.Schema
	materializers map[string]Materializer
	// recognizedDimensions lists every dimension name the runtime knows
	// about, whether or not a given spec declares it. Dimensions in
	// this set that are absent from the spec still get an explicit
	// null materialization (step 3 of the compile pipeline).
	recognizedDimensions []string
}

// NewCompiler builds a Compiler. schema is the compiled JSON Schema the
// whole AgentSpec document must satisfy; materializers maps a
// dimension name to its materializer.
func NewCompiler(schema *jsonschema.Schema, materializers map[string]Materializer) *Compiler {
	recognized := make([]string, 0, len(materializers))
	for name := range materializers {
		recognized = append(recognized, name)
	}
	return &Compiler{
		schema:               schema,
		materializers:        materializers,
		recognizedDimensions: recognized,
	}
}

// Compile runs the five-step compile pipeline documented for C9:
// schema validation, dimension resolution, null-materialize recognized
// but undeclared dimensions, materialize, and bind subscribers to a
// fresh hook bus. It is idempotent and side-effect-free except for
// subscriber registration on the returned bus.
func (c *Compiler) Compile(ctx context.Context, spec *models.AgentSpec) (*models.CompiledAgentSpec, contracts.HookBus, error) {
	if err := c.validate(spec); err != nil {
		return nil, nil, fmt.Errorf("agentspec validation failed: %w", err)
	}

	bus := hooks.NewBus()
	bundle := make([]models.MaterializedDimension, 0, len(c.recognizedDimensions))
	seen := make(map[string]bool, len(spec.Dimensions))

	for name, cfg := range spec.Dimensions {
		materializer, ok := c.materializers[name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown dimension %q", name)
		}
		if err := materializer(bus, cfg); err != nil {
			return nil, nil, fmt.Errorf("dimension %q: %w", name, err)
		}
		bundle = append(bundle, models.MaterializedDimension{
			Name:    name,
			Present: cfg != nil,
		})
		seen[name] = true
	}

	for _, name := range c.recognizedDimensions {
		if seen[name] {
			continue
		}
		materializer := c.materializers[name]
		if err := materializer(bus, nil); err != nil {
			return nil, nil, fmt.Errorf("dimension %q (implicit null): %w", name, err)
		}
		bundle = append(bundle, models.MaterializedDimension{Name: name, Present: false})
	}

	return &models.CompiledAgentSpec{
		AgentID:       spec.AgentID,
		AgentType:     spec.AgentType,
		Version:       spec.Version,
		RuntimeBundle: bundle,
	}, bus, nil
}

func (c *Compiler) validate(spec *models.AgentSpec) error {
	if c.schema == nil {
		return nil
	}
	payload := map[string]interface{}{
		"agent_id":   spec.AgentID,
		"agent_type": string(spec.AgentType),
		"version":    spec.Version,
		"dimensions": spec.Dimensions,
	}
	return c.schema.Validate(payload)
}
