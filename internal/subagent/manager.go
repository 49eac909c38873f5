// Package subagent implements the Sub-Agent Manager: spawning a background
// Conversation with its own ephemeral session, concurrently with the
// parent, and delivering its result back to the chat that spawned it.
// Modeled on internal/tools/subagent_exec.go's SubagentManager
// (goroutine-per-task execution, a running-count gate against a configured
// max_concurrent, a completion callback) with its tracing-span emission and
// bus-announce batching dropped in favor of delivering straight through the
// DeliveryFunc the caller registers.
package subagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/agent"
	"github.com/syneagent/syne/internal/store"
)

// defaultMaxConcurrent is the fallback cap on simultaneous runs.
const defaultMaxConcurrent = 2

// resultMaxChars bounds how much of a sub-agent's result the delivery
// callback receives, so a verbose result doesn't blow past a channel's
// message-size limit.
const resultMaxChars = 4000

// DeliveryFunc forwards a finished (or failed/cancelled) run to the chat
// whose session spawned it.
type DeliveryFunc func(platform, chatID string, run store.SubAgentRun)

// Manager owns the spawn/list_active/get_run/cancel_by_session surface.
// It implements tools.SubAgentAPI without importing the tools package
// directly (that package's registry is what dispatches into this
// manager's Spawn/ListActive/GetRun/CancelBySession methods).
type Manager struct {
	store         store.Store
	loop          *agent.Loop
	maxConcurrent int
	deliver       DeliveryFunc

	mu      sync.Mutex
	running int
}

func NewManager(s store.Store, loop *agent.Loop, maxConcurrent int, deliver DeliveryFunc) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Manager{
		store:         s,
		loop:          loop,
		maxConcurrent: maxConcurrent,
		deliver:       deliver,
	}
}

// Spawn creates a pending run row and launches it in a goroutine, subject
// to max_concurrent; excess spawns are rejected with an error string the
// calling tool returns to the model rather than panicking or blocking.
// ownerAccess must be the parent session owner's access level — spawning
// never elevates privilege.
func (m *Manager) Spawn(ctx context.Context, task string, parentSessionID uuid.UUID, ownerAccess store.AccessLevel, deliverPlatform, deliverChatID string) (store.SubAgentRun, error) {
	m.mu.Lock()
	if m.running >= m.maxConcurrent {
		m.mu.Unlock()
		return store.SubAgentRun{}, fmt.Errorf("max_concurrent sub-agent runs (%d) already active", m.maxConcurrent)
	}
	m.running++
	m.mu.Unlock()

	run, err := m.store.InsertSubAgentRun(ctx, store.SubAgentRun{
		ParentSessionID: parentSessionID,
		Task:            task,
		Status:          store.SubAgentPending,
		StartedAt:       nowFunc(),
	})
	if err != nil {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
		return store.SubAgentRun{}, fmt.Errorf("insert sub-agent run: %w", err)
	}

	// Detached from ctx: a sub-agent keeps running after the parent turn
	// that spawned it has already returned its own response. agent.Loop
	// tracks its own cancellation handle for ("subagent", run.RunID); see
	// CancelBySession, which cancels it by that same key.
	go m.execute(context.Background(), run, ownerAccess, deliverPlatform, deliverChatID)

	return run, nil
}

func (m *Manager) execute(ctx context.Context, run store.SubAgentRun, ownerAccess store.AccessLevel, platform, chatID string) {
	defer func() {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
	}()

	run.Status = store.SubAgentRunning
	if err := m.store.UpdateSubAgentRun(ctx, run); err != nil {
		return
	}

	subTurn := agent.Turn{
		Platform:     "subagent",
		ChatID:       run.RunID.String(),
		CallerAccess: ownerAccess,
		Text:         run.Task,
	}

	result, err := m.loop.Run(ctx, subTurn)
	finished := nowFunc()
	run.FinishedAt = &finished

	if err != nil {
		run.Status = store.SubAgentFailed
		run.Error = err.Error()
	} else {
		run.Status = store.SubAgentCompleted
		run.Result = truncate(result.Text, resultMaxChars)
	}

	if updateErr := m.store.UpdateSubAgentRun(ctx, run); updateErr != nil {
		return
	}

	if m.deliver != nil {
		m.deliver(platform, chatID, run)
	}
}

// ListActive returns running/pending sub-agent runs, optionally scoped to
// one parent session.
func (m *Manager) ListActive(ctx context.Context, parentSessionID *uuid.UUID) ([]store.SubAgentRun, error) {
	return m.store.ListActiveSubAgentRuns(ctx, parentSessionID)
}

// GetRun looks up a run by id regardless of status.
func (m *Manager) GetRun(ctx context.Context, runID uuid.UUID) (*store.SubAgentRun, error) {
	return m.store.GetSubAgentRun(ctx, runID)
}

// CancelBySession cancels every active run spawned from the given parent
// session.
func (m *Manager) CancelBySession(ctx context.Context, sessionID uuid.UUID) error {
	runs, err := m.store.ListActiveSubAgentRuns(ctx, &sessionID)
	if err != nil {
		return fmt.Errorf("list active sub-agent runs: %w", err)
	}
	for _, r := range runs {
		m.loop.Cancel("subagent", r.RunID.String())

		r.Status = store.SubAgentCancelled
		finished := nowFunc()
		r.FinishedAt = &finished
		if err := m.store.UpdateSubAgentRun(ctx, r); err != nil {
			return fmt.Errorf("update cancelled sub-agent run %s: %w", r.RunID, err)
		}
	}
	return nil
}

// nowFunc is a seam so tests can pin time; production uses wall-clock.
var nowFunc = time.Now

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
