package mcpserver

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// Handler executes one tool invocation. Arguments have already passed schema
// validation. The returned value must be JSON-serializable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool declares one named operation: description, input schema and handler.
// Descriptors are immutable once registered.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

// ToolNotFoundError reports a tools/call for a name the registry does not
// know.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ValidationError reports arguments rejected by a tool's input schema. No
// upstream call is made when validation fails.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type registeredTool struct {
	tool     *Tool
	resolved *jsonschema.Resolved
}

// Registry is the fixed tool table for one session. Schemas are resolved
// once at construction; lookup and validation are the only operations.
type Registry struct {
	byName map[string]*registeredTool
	names  []string
}

// NewRegistry resolves every tool's input schema and builds the table.
// Duplicate names and unresolvable schemas are programming errors surfaced
// at startup.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]*registeredTool, len(tools))}
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name)
		}
		if t.InputSchema == nil || t.Handler == nil {
			return nil, fmt.Errorf("tool %q missing schema or handler", t.Name)
		}
		resolved, err := t.InputSchema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve schema for %q: %w", t.Name, err)
		}
		r.byName[t.Name] = &registeredTool{tool: t, resolved: resolved}
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// List enumerates tool descriptors in stable name order.
func (r *Registry) List() []ToolInfo {
	out := make([]ToolInfo, 0, len(r.names))
	for _, name := range r.names {
		t := r.byName[name].tool
		out = append(out, ToolInfo{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

// Call validates args against the named tool's schema and runs its handler.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	reg, ok := r.byName[name]
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := reg.resolved.Validate(args); err != nil {
		return nil, &ValidationError{Tool: name, Err: err}
	}
	return reg.tool.Handler(ctx, args)
}
