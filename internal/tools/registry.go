// Package tools implements the Tool/Ability Registry: a fixed set of
// code-backed tools, JSON-schema argument validation, and
// access-level/security-gated dispatch. Modeled on result.go (the Result
// return shape) and policy.go (the access-level gating idea, generalized
// here from a per-tool-profile allow-list to a single required_access_level
// + owner-only-tool registry).
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/syneagent/syne/internal/security"
	"github.com/syneagent/syne/internal/store"
)

// Tool is one dispatchable, schema-described action.
type Tool interface {
	Name() string
	Description() string
	RequiredAccessLevel() store.AccessLevel
	Schema() map[string]any
	Execute(ctx context.Context, call Call) (*Result, error)
}

// Call is the caller context a tool's Execute receives: the raw arguments
// plus enough caller standing for the tool to apply its own finer-grained
// checks (e.g. file_write's scope gate).
type Call struct {
	Args         map[string]any
	CallerAccess store.AccessLevel
	IsGroup      bool
	UserID       string

	// SessionID identifies the session that issued the call, used by
	// session-scoped tools (e.g. sub-agent spawn/cancel).
	SessionID uuid.UUID

	// Platform/ChatID identify where to deliver an asynchronous result
	// (e.g. a sub-agent's completion) once the call itself has returned.
	Platform string
	ChatID   string
}

// Registry holds every registered tool and dispatches calls through the
// access-level and owner-only-tool gates before a tool ever runs.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Visible returns every tool the caller's access level may see (and thus
// that the Prompt Builder renders and the provider receives as a callable
// tool schema).
func (r *Registry) Visible(callerAccess store.AccessLevel, isGroup bool) []Tool {
	var out []Tool
	effective := security.EffectiveAccessLevel(callerAccess, isGroup)
	for _, t := range r.tools {
		if ok, _ := security.CheckOwnerOnlyTool(t.Name(), callerAccess, isGroup); !ok {
			continue
		}
		if t.RequiredAccessLevel() != "" && !effective.AtLeast(t.RequiredAccessLevel()) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Dispatch validates the call's JSON arguments against the tool's schema,
// enforces the owner-only-tool and required-access-level gates (both of
// which apply EffectiveAccessLevel's group-provenance downgrade), and only
// then runs the tool.
func (r *Registry) Dispatch(ctx context.Context, name string, argsJSON json.RawMessage, call Call) (*Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool %q", name)), nil
	}

	if ok, reason := security.CheckOwnerOnlyTool(name, call.CallerAccess, call.IsGroup); !ok {
		return ErrorResult(reason), nil
	}
	effective := security.EffectiveAccessLevel(call.CallerAccess, call.IsGroup)
	if t.RequiredAccessLevel() != "" && !effective.AtLeast(t.RequiredAccessLevel()) {
		return ErrorResult(fmt.Sprintf("%q requires %s access", name, t.RequiredAccessLevel())), nil
	}

	var args map[string]any
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return ErrorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}
	if schema := t.Schema(); len(schema) > 0 {
		if err := validateArgs(schema, args); err != nil {
			return ErrorResult(err.Error()), nil
		}
	}

	call.Args = args
	result, err := t.Execute(ctx, call)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err), nil
	}
	return result, nil
}

// validateArgs implements the registry's schema gate, grounded on
// teradata-labs-loom's pkg/mcp/protocol/validation.go ValidateToolArguments.
func validateArgs(schema map[string]any, args map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	argsLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, argsLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid arguments: %v", msgs)
	}
	return nil
}
