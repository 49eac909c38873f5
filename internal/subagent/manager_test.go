package subagent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/agent"
	"github.com/syneagent/syne/internal/prompt"
	"github.com/syneagent/syne/internal/providers"
	"github.com/syneagent/syne/internal/store"
	"github.com/syneagent/syne/internal/store/memstore"
	"github.com/syneagent/syne/internal/subagent"
	"github.com/syneagent/syne/internal/tools"
)

type fixedProvider struct{ content string }

func (p *fixedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: p.content, FinishReason: "stop"}, nil
}

func (p *fixedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: p.content, FinishReason: "stop"}, nil
}

func (p *fixedProvider) DefaultModel() string { return "fixed-model" }
func (p *fixedProvider) Name() string         { return "fixed" }

// blockingProvider holds ChatStream open until release is closed, so a
// test can deterministically keep a sub-agent "in flight".
type blockingProvider struct{ release chan struct{} }

func (p *blockingProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	<-p.release
	return &providers.ChatResponse{Content: "done", FinishReason: "stop"}, nil
}

func (p *blockingProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	<-p.release
	return &providers.ChatResponse{Content: "done", FinishReason: "stop"}, nil
}

func (p *blockingProvider) DefaultModel() string { return "blocking-model" }
func (p *blockingProvider) Name() string         { return "fixed" }

func newTestManager(t *testing.T, maxConcurrent int, deliver subagent.DeliveryFunc) (*subagent.Manager, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	reg := providers.NewRegistry()
	reg.Register(&fixedProvider{content: "subagent result"})
	toolReg := tools.NewRegistry()
	builder := prompt.NewBuilder(s)
	loop := agent.NewLoop(s, reg, toolReg, builder, nil)
	return subagent.NewManager(s, loop, maxConcurrent, deliver), s
}

func newBlockingTestManager(t *testing.T, maxConcurrent int, release chan struct{}) *subagent.Manager {
	t.Helper()
	s := memstore.New()
	reg := providers.NewRegistry()
	reg.Register(&blockingProvider{release: release})
	toolReg := tools.NewRegistry()
	builder := prompt.NewBuilder(s)
	loop := agent.NewLoop(s, reg, toolReg, builder, nil)
	return subagent.NewManager(s, loop, maxConcurrent, nil)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSpawnRunsToCompletionAndDelivers(t *testing.T) {
	var mu sync.Mutex
	var delivered *store.SubAgentRun
	mgr, s := newTestManager(t, 2, func(platform, chatID string, run store.SubAgentRun) {
		mu.Lock()
		defer mu.Unlock()
		r := run
		delivered = &r
	})

	parentSessionID := uuid.New()
	run, err := mgr.Spawn(context.Background(), "summarize the thread", parentSessionID, store.AccessOwner, "telegram", "chat-1")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered != nil
	})

	mu.Lock()
	defer mu.Unlock()
	if delivered.Status != store.SubAgentCompleted {
		t.Fatalf("Status = %q, want completed", delivered.Status)
	}
	if delivered.Result != "subagent result" {
		t.Fatalf("Result = %q, want %q", delivered.Result, "subagent result")
	}

	stored, err := s.GetSubAgentRun(context.Background(), run.RunID)
	if err != nil || stored == nil {
		t.Fatalf("GetSubAgentRun: %v", err)
	}
	if stored.Status != store.SubAgentCompleted {
		t.Fatalf("stored status = %q, want completed", stored.Status)
	}
}

func TestSpawnRejectsOverMaxConcurrent(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	mgr := newBlockingTestManager(t, 1, release)

	parentSessionID := uuid.New()
	if _, err := mgr.Spawn(context.Background(), "task one", parentSessionID, store.AccessOwner, "telegram", "chat-1"); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}

	// The first run is still blocked on release, holding the one slot.
	if _, err := mgr.Spawn(context.Background(), "task two", parentSessionID, store.AccessOwner, "telegram", "chat-1"); err == nil {
		t.Fatalf("expected the second spawn to be rejected while max_concurrent=1 is in use")
	}
}

func TestCancelBySessionMarksActiveRunsCancelled(t *testing.T) {
	mgr, s := newTestManager(t, 2, nil)
	parentSessionID := uuid.New()

	run, err := s.InsertSubAgentRun(context.Background(), store.SubAgentRun{
		ParentSessionID: parentSessionID,
		Task:            "long task",
		Status:          store.SubAgentRunning,
	})
	if err != nil {
		t.Fatalf("InsertSubAgentRun: %v", err)
	}

	if err := mgr.CancelBySession(context.Background(), parentSessionID); err != nil {
		t.Fatalf("CancelBySession: %v", err)
	}

	stored, err := s.GetSubAgentRun(context.Background(), run.RunID)
	if err != nil || stored == nil {
		t.Fatalf("GetSubAgentRun: %v", err)
	}
	if stored.Status != store.SubAgentCancelled {
		t.Fatalf("Status = %q, want cancelled", stored.Status)
	}
}
