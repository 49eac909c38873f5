package agent_test

import (
	"context"
	"testing"

	"github.com/syneagent/syne/internal/agent"
	"github.com/syneagent/syne/internal/comm"
	"github.com/syneagent/syne/internal/prompt"
	"github.com/syneagent/syne/internal/providers"
	"github.com/syneagent/syne/internal/store"
	"github.com/syneagent/syne/internal/store/memstore"
	"github.com/syneagent/syne/internal/tools"
)

// scriptedProvider replays a fixed sequence of responses, one per
// ChatStream call, so a test can drive a specific tool-call-then-final-text
// shape without a real LLM.
type scriptedProvider struct {
	name      string
	responses []providers.ChatResponse
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return p.next(), nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	onChunk(providers.StreamChunk{Content: "", Done: false})
	return p.next(), nil
}

func (p *scriptedProvider) next() *providers.ChatResponse {
	r := p.responses[p.calls]
	if p.calls < len(p.responses)-1 {
		p.calls++
	}
	return &r
}

func (p *scriptedProvider) DefaultModel() string { return "scripted-model" }
func (p *scriptedProvider) Name() string         { return p.name }

// echoTool is a minimal Tool used to exercise the dispatch half of the loop.
type echoTool struct{}

func (echoTool) Name() string                          { return "echo" }
func (echoTool) Description() string                   { return "echo back its input argument" }
func (echoTool) RequiredAccessLevel() store.AccessLevel { return "" }
func (echoTool) Schema() map[string]any                 { return map[string]any{"type": "object"} }
func (echoTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	msg, _ := call.Args["text"].(string)
	return tools.NewResult("echo: " + msg), nil
}

func newTestLoop(t *testing.T, responses []providers.ChatResponse) (*agent.Loop, *memstore.Store) {
	t.Helper()
	s := memstore.New()

	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{name: "scripted", responses: responses})

	toolReg := tools.NewRegistry()
	toolReg.Register(echoTool{})

	builder := prompt.NewBuilder(s)
	return agent.NewLoop(s, reg, toolReg, builder, nil), s
}

func TestRunReturnsFinalAssistantTextWithNoToolCalls(t *testing.T) {
	loop, _ := newTestLoop(t, []providers.ChatResponse{
		{Content: "hello there", FinishReason: "stop"},
	})

	result, err := loop.Run(context.Background(), agent.Turn{
		Platform:     "telegram",
		ChatID:       "chat-1",
		CallerAccess: store.AccessOwner,
		Text:         "hi",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "hello there" {
		t.Fatalf("Text = %q, want %q", result.Text, "hello there")
	}
}

func TestRunDispatchesToolCallsThenReturnsFinalText(t *testing.T) {
	loop, s := newTestLoop(t, []providers.ChatResponse{
		{
			Content:      "",
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{
				{ID: "call-1", Name: "echo", Arguments: map[string]interface{}{"text": "ping"}},
			},
		},
		{Content: "done", FinishReason: "stop"},
	})

	result, err := loop.Run(context.Background(), agent.Turn{
		Platform:     "telegram",
		ChatID:       "chat-2",
		CallerAccess: store.AccessOwner,
		Text:         "run echo",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "done" {
		t.Fatalf("Text = %q, want %q", result.Text, "done")
	}

	session, err := s.GetActiveSession(context.Background(), "telegram", "chat-2")
	if err != nil || session == nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	messages, err := s.ListMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	var sawToolResult bool
	for _, m := range messages {
		if m.Role == store.RoleTool && m.Content == "echo: ping" {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatalf("expected a persisted tool message with the echo result, got %+v", messages)
	}
}

func TestRunAppliesTagPostProcessing(t *testing.T) {
	loop, _ := newTestLoop(t, []providers.ChatResponse{
		{Content: "on it [[reply_to_current]] [[react:👍]]", FinishReason: "stop"},
	})

	result, err := loop.Run(context.Background(), agent.Turn{
		Platform:          "telegram",
		ChatID:            "chat-3",
		CallerAccess:      store.AccessOwner,
		Text:              "thanks",
		IncomingMessageID: "msg-42",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ReplyToMessageID != "msg-42" {
		t.Fatalf("ReplyToMessageID = %q, want msg-42", result.ReplyToMessageID)
	}
	if len(result.Reactions) != 1 || result.Reactions[0] != "👍" {
		t.Fatalf("Reactions = %v, want [👍]", result.Reactions)
	}
}

func TestCancelReportsFalseForUnknownRunKey(t *testing.T) {
	loop, _ := newTestLoop(t, []providers.ChatResponse{{Content: "hi", FinishReason: "stop"}})
	if loop.Cancel("telegram", "no-such-chat") {
		t.Fatalf("Cancel should report false for an unknown run")
	}
}

func TestUserContextPrefixDecoratesLiveRequestNotStoredRow(t *testing.T) {
	loop, s := newTestLoop(t, []providers.ChatResponse{
		{Content: "ack", FinishReason: "stop"},
	})

	_, err := loop.Run(context.Background(), agent.Turn{
		Platform:     "telegram",
		ChatID:       "chat-4",
		CallerAccess: store.AccessPublic,
		Text:         "hello",
		Inbound: comm.InboundContext{
			ChatID:     "chat-4",
			ChatType:   comm.ChatDirect,
			SenderName: "Ada",
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	session, err := s.GetActiveSession(context.Background(), "telegram", "chat-4")
	if err != nil || session == nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	messages, err := s.ListMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	for _, m := range messages {
		if m.Role == store.RoleUser && m.Content != "hello" {
			t.Fatalf("stored user message was decorated: %q", m.Content)
		}
	}
}
