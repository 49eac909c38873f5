package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/store"
)

// SubAgentAPI is the narrow slice of the Sub-Agent Manager this tool
// dispatches onto. Defined locally, rather than importing the manager
// package directly, because the manager runs the Conversation Manager
// loop to completion and that package already imports this one for
// dispatch — a direct import here would cycle back on itself.
type SubAgentAPI interface {
	Spawn(ctx context.Context, task string, parentSessionID uuid.UUID, ownerAccess store.AccessLevel, deliverPlatform, deliverChatID string) (store.SubAgentRun, error)
	ListActive(ctx context.Context, parentSessionID *uuid.UUID) ([]store.SubAgentRun, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*store.SubAgentRun, error)
	CancelBySession(ctx context.Context, sessionID uuid.UUID) error
}

// SpawnSubAgentArgs is spawn_subagent's argument shape.
type SpawnSubAgentArgs struct {
	Task string `json:"task" jsonschema:"required,description=The task for the sub-agent to complete independently"`
}

// SpawnSubAgentTool dispatches the spawn operation. The parent session's
// owner access level (not the caller's effective access, which may be
// lower after a group downgrade) gates the sub-agent's own tool calls —
// spawning never elevates privilege.
type SpawnSubAgentTool struct {
	api SubAgentAPI
}

func NewSpawnSubAgentTool(api SubAgentAPI) *SpawnSubAgentTool { return &SpawnSubAgentTool{api: api} }

func (t *SpawnSubAgentTool) Name() string        { return "spawn_subagent" }
func (t *SpawnSubAgentTool) Description() string { return "Spawn a background sub-agent to complete a task independently, delivering its result back to this chat when done" }
func (t *SpawnSubAgentTool) RequiredAccessLevel() store.AccessLevel { return "" }

func (t *SpawnSubAgentTool) Schema() map[string]any {
	schema, err := generateSchema[SpawnSubAgentArgs]()
	if err != nil {
		return nil
	}
	return schema
}

func (t *SpawnSubAgentTool) Execute(ctx context.Context, call Call) (*Result, error) {
	task, _ := call.Args["task"].(string)
	if task == "" {
		return ErrorResult("task is required"), nil
	}
	run, err := t.api.Spawn(ctx, task, call.SessionID, call.CallerAccess, call.Platform, call.ChatID)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return NewResult(fmt.Sprintf("Spawned sub-agent run %s (status: %s). Its result will be delivered to this chat when it completes.", run.RunID, run.Status)), nil
}

// ListActiveSubAgentsArgs is list_active_subagents' argument shape.
type ListActiveSubAgentsArgs struct {
	AllSessions bool `json:"all_sessions,omitempty" jsonschema:"description=List active runs across every session instead of just this one"`
}

// ListActiveSubAgentsTool dispatches the list_active operation.
type ListActiveSubAgentsTool struct {
	api SubAgentAPI
}

func NewListActiveSubAgentsTool(api SubAgentAPI) *ListActiveSubAgentsTool {
	return &ListActiveSubAgentsTool{api: api}
}

func (t *ListActiveSubAgentsTool) Name() string        { return "list_active_subagents" }
func (t *ListActiveSubAgentsTool) Description() string { return "List currently running or pending sub-agent runs" }
func (t *ListActiveSubAgentsTool) RequiredAccessLevel() store.AccessLevel { return "" }

func (t *ListActiveSubAgentsTool) Schema() map[string]any {
	schema, err := generateSchema[ListActiveSubAgentsArgs]()
	if err != nil {
		return nil
	}
	return schema
}

func (t *ListActiveSubAgentsTool) Execute(ctx context.Context, call Call) (*Result, error) {
	var parentSessionID *uuid.UUID
	allSessions, _ := call.Args["all_sessions"].(bool)
	if !allSessions {
		id := call.SessionID
		parentSessionID = &id
	}

	runs, err := t.api.ListActive(ctx, parentSessionID)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	if len(runs) == 0 {
		return SilentResult("no active sub-agent runs"), nil
	}

	var b strings.Builder
	for _, r := range runs {
		fmt.Fprintf(&b, "%s: %s (%s)\n", r.RunID, r.Status, r.Task)
	}
	return SilentResult(strings.TrimRight(b.String(), "\n")), nil
}

// GetSubAgentRunArgs is get_subagent_run's argument shape.
type GetSubAgentRunArgs struct {
	RunID string `json:"run_id" jsonschema:"required,description=The sub-agent run id returned by spawn_subagent"`
}

// GetSubAgentRunTool dispatches the get_run operation.
type GetSubAgentRunTool struct {
	api SubAgentAPI
}

func NewGetSubAgentRunTool(api SubAgentAPI) *GetSubAgentRunTool { return &GetSubAgentRunTool{api: api} }

func (t *GetSubAgentRunTool) Name() string        { return "get_subagent_run" }
func (t *GetSubAgentRunTool) Description() string { return "Look up the status and result of a sub-agent run by id" }
func (t *GetSubAgentRunTool) RequiredAccessLevel() store.AccessLevel { return "" }

func (t *GetSubAgentRunTool) Schema() map[string]any {
	schema, err := generateSchema[GetSubAgentRunArgs]()
	if err != nil {
		return nil
	}
	return schema
}

func (t *GetSubAgentRunTool) Execute(ctx context.Context, call Call) (*Result, error) {
	raw, _ := call.Args["run_id"].(string)
	runID, err := uuid.Parse(raw)
	if err != nil {
		return ErrorResult("run_id must be a valid sub-agent run id"), nil
	}
	run, err := t.api.GetRun(ctx, runID)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	if run == nil {
		return ErrorResult(fmt.Sprintf("no sub-agent run %s", runID)), nil
	}
	if run.Error != "" {
		return SilentResult(fmt.Sprintf("%s: %s (error: %s)", run.Status, run.Task, run.Error)), nil
	}
	return SilentResult(fmt.Sprintf("%s: %s\n%s", run.Status, run.Task, run.Result)), nil
}

// CancelSubAgentsArgs is cancel_subagents' argument shape.
type CancelSubAgentsArgs struct{}

// CancelSubAgentsTool dispatches the cancel_by_session operation, always
// scoped to the calling session (a tool call has no business cancelling
// another chat's sub-agents).
type CancelSubAgentsTool struct {
	api SubAgentAPI
}

func NewCancelSubAgentsTool(api SubAgentAPI) *CancelSubAgentsTool {
	return &CancelSubAgentsTool{api: api}
}

func (t *CancelSubAgentsTool) Name() string        { return "cancel_subagents" }
func (t *CancelSubAgentsTool) Description() string { return "Cancel every active sub-agent run spawned from this chat" }
func (t *CancelSubAgentsTool) RequiredAccessLevel() store.AccessLevel { return "" }

func (t *CancelSubAgentsTool) Schema() map[string]any {
	schema, err := generateSchema[CancelSubAgentsArgs]()
	if err != nil {
		return nil
	}
	return schema
}

func (t *CancelSubAgentsTool) Execute(ctx context.Context, call Call) (*Result, error) {
	if err := t.api.CancelBySession(ctx, call.SessionID); err != nil {
		return ErrorResult(err.Error()), nil
	}
	return SilentResult("cancelled active sub-agent runs for this chat"), nil
}
