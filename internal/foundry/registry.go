package foundry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"aura/internal/logging"
)

// Action executes one tool call. A returned error means the tool itself
// broke; tools report expected failures (missing file, bad symbol) as
// "Error: ..." result strings the model can read and react to.
type Action func(ctx context.Context, c *Call) (any, error)

// Spec declares one tool: its wire name, the description the planner model
// sees, a JSON-schema parameter contract, and the action behind it.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Action      Action
}

// Registry holds the tool catalog with compiled parameter schemas.
type Registry struct {
	specs   map[string]*Spec
	schemas map[string]*jsonschema.Schema
	log     logging.Logger
}

// NewRegistry builds the full catalog and compiles every parameter schema.
func NewRegistry(log logging.Logger) (*Registry, error) {
	r := &Registry{
		specs:   make(map[string]*Spec),
		schemas: make(map[string]*jsonschema.Schema),
		log:     logging.OrNop(log),
	}
	groups := [][]*Spec{
		filesystemSpecs(),
		editingSpecs(),
		intelSpecs(),
		opsSpecs(),
	}
	for _, group := range groups {
		for _, spec := range group {
			if err := r.register(spec); err != nil {
				return nil, err
			}
		}
	}
	r.log.Info("tool registry loaded with %d tools", len(r.specs))
	return r, nil
}

func (r *Registry) register(spec *Spec) error {
	if _, ok := r.specs[spec.Name]; ok {
		return fmt.Errorf("duplicate tool %q", spec.Name)
	}
	raw, err := json.Marshal(spec.Parameters)
	if err != nil {
		return fmt.Errorf("encode schema for %q: %w", spec.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("inline://tools/%s.json", spec.Name)
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("load schema for %q: %w", spec.Name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", spec.Name, err)
	}
	r.specs[spec.Name] = spec
	r.schemas[spec.Name] = compiled
	return nil
}

// Get returns a tool spec by name.
func (r *Registry) Get(name string) (*Spec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateArgs checks a call's arguments against the tool's schema.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	// The validator wants plainly decoded JSON; arguments already are.
	if args == nil {
		args = map[string]any{}
	}
	if err := schema.Validate(map[string]any(args)); err != nil {
		return fmt.Errorf("invalid arguments for %q: %w", name, err)
	}
	return nil
}

// Definitions renders the catalog in the shape the LLM gateway expects for
// tool-calling prompts.
func (r *Registry) Definitions() []map[string]any {
	defs := make([]map[string]any, 0, len(r.specs))
	for _, name := range r.Names() {
		spec := r.specs[name]
		defs = append(defs, map[string]any{
			"name":        spec.Name,
			"description": spec.Description,
			"parameters":  spec.Parameters,
		})
	}
	return defs
}

// objectSchema is shorthand for the common object parameter shape.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func strProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func boolProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func strListProp(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

func objProp(description string) map[string]any {
	return map[string]any{"type": "object", "description": description}
}
