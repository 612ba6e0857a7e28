// Package tools implements the Tool Dispatcher's contract and registry
// (§4.6): the interface every tool must satisfy, a capability-gated
// registry that filters the catalog exposed to a model, and JSON-schema
// argument validation.
//
// Grounded on goa-ai's features/policy/basic (allow/block-tag filtering
// over a tool catalog — generalized here to the spec's depends_on
// capability gating) and runtime/agent/tools (ToolSpec/ID as the
// teacher's catalog entry shape, which this package's Description/Tool
// pair replaces with the spec's confirm/deny and capability contract).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/message"
	"github.com/chatcore/engine/runtime/provider"
)

// Decision is the outcome of MatchAgainstConfirmDeny (§4.6).
type Decision string

const (
	Pass         Decision = "pass"
	Confirmation Decision = "confirmation"
	Deny         Decision = "deny"
)

// MatchResult reports a confirm/deny evaluation for one tool call.
type MatchResult struct {
	Decision Decision
	Command  string
	Rule     string
}

// Parameter describes one tool argument for schema generation and catalog
// conversion.
type Parameter struct {
	Name        string
	Type        string // JSON schema primitive: string, number, boolean, object, array
	Description string
	Enum        []string
}

// Description is a tool's static catalog entry (§4.6 description()).
type Description struct {
	Name                 string
	Description          string
	Parameters           []Parameter
	ParametersRequired   []string
	Agentic              bool
	Experimental         bool
	ConfirmDeny          bool
}

// ContextFile is a piece of file content a tool result contributes for the
// postprocessor to fold into the transcript as a context_file message.
type ContextFile struct {
	Path     string
	Content  string
	Language string
}

// ExecuteResult is a tool's execution outcome (§4.6 execute()): the
// spec's "(dirty_flag, list of ContextEnum)" represented as a single
// struct, since Go has no anonymous sum type.
type ExecuteResult struct {
	Dirty    bool
	Messages []*message.ChatMessage
	Files    []ContextFile
}

// Tool is the contract every tool implementation must satisfy (§4.6).
type Tool interface {
	Description() Description
	// DependsOn lists capability names (e.g. "ast", "vecdb") that must be
	// present for this tool to be visible in the catalog.
	DependsOn() []string
	MatchAgainstConfirmDeny(args map[string]any) MatchResult
	CommandToMatchAgainstConfirmDeny(args map[string]any) string
	Execute(ctx context.Context, toolCallID string, args map[string]any) (ExecuteResult, error)
}

// IdeTool is implemented by tools that require IDE cooperation (editor
// actions) instead of running in-process (§4.6 step 3).
type IdeTool interface {
	Tool
	RequiresIde(args map[string]any) bool
}

// ModelAware is implemented by tools whose visibility depends on the target
// model (§4.4 step 7, "is_supported_by(model_id)"). Tools that don't
// implement it are assumed supported by every model.
type ModelAware interface {
	Tool
	SupportsModel(modelID string) bool
}

type registered struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds every known tool plus the set of capabilities currently
// available in the workspace, gating which tools are visible.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]*registered
	capabilities map[string]bool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered), capabilities: make(map[string]bool)}
}

// SetCapability marks a named capability (e.g. "ast", "vecdb") as available
// or unavailable, affecting which DependsOn-gated tools are visible.
func (r *Registry) SetCapability(name string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[name] = available
}

// Register adds t to the registry, compiling its argument schema once up
// front so Dispatch never pays compilation cost per call.
func (r *Registry) Register(t Tool) error {
	desc := t.Description()
	if desc.Name == "" {
		return fmt.Errorf("tool registered with empty name")
	}
	schema, err := compileSchema(desc)
	if err != nil {
		return fmt.Errorf("tool %q: compile argument schema: %w", desc.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[desc.Name] = &registered{tool: t, schema: schema}
	return nil
}

// Lookup returns the tool named name if it is registered and every
// capability it depends on is currently available.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok || !r.satisfied(reg.tool.DependsOn()) {
		return nil, false
	}
	return reg.tool, true
}

// Validate checks args against the tool's compiled argument schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return errs.Newf(errs.ToolUnknown, "tool %q is not registered", name)
	}
	if reg.schema == nil {
		return nil
	}
	if err := reg.schema.Validate(toJSONValue(args)); err != nil {
		return errs.Wrap(errs.ToolArgsInvalid, err, fmt.Sprintf("arguments for tool %q failed validation", name))
	}
	return nil
}

func (r *Registry) satisfied(deps []string) bool {
	for _, d := range deps {
		if !r.capabilities[d] {
			return false
		}
	}
	return true
}

// SupportedTools implements prepare.ToolCatalog: it returns the wire
// declaration of every tool currently visible for modelID.
func (r *Registry) SupportedTools(modelID string) []provider.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []provider.ToolDef
	for name, reg := range r.tools {
		if !r.satisfied(reg.tool.DependsOn()) {
			continue
		}
		if ma, ok := reg.tool.(ModelAware); ok && !ma.SupportsModel(modelID) {
			continue
		}
		desc := reg.tool.Description()
		out = append(out, provider.ToolDef{
			Name:        name,
			Description: desc.Description,
			Parameters:  parametersSchema(desc),
		})
	}
	return out
}

func parametersSchema(desc Description) map[string]any {
	props := make(map[string]any, len(desc.Parameters))
	for _, p := range desc.Parameters {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(desc.ParametersRequired) > 0 {
		schema["required"] = desc.ParametersRequired
	}
	return schema
}

func compileSchema(desc Description) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(parametersSchema(desc))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	resource := "tool://" + desc.Name
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, err
	}
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(resource)
}

// toJSONValue round-trips args through JSON so map values of arbitrary Go
// types (e.g. typed structs the caller decoded arguments into) present the
// same shape the schema validator expects from raw JSON.
func toJSONValue(args map[string]any) any {
	b, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return args
	}
	return v
}
