package context_test

import (
	stdcontext "context"
	"testing"

	"github.com/stretchr/testify/require"

	synecontext "github.com/syneagent/syne/internal/context"
	"github.com/syneagent/syne/internal/providers"
	"github.com/syneagent/syne/internal/store"
	"github.com/syneagent/syne/internal/store/memstore"
)

func TestCheckBudget_HeavyOnMessageCount(t *testing.T) {
	var messages []store.Message
	for i := 0; i < 30; i++ {
		messages = append(messages, store.Message{Role: store.RoleUser, Content: "hi"})
	}
	state := synecontext.CheckBudget(messages, synecontext.ModelLimits{ContextWindow: 200000, ReservedOutputTokens: 8000}, synecontext.SessionLimits{MaxMessages: 30, CompactionThreshold: 150000})
	require.True(t, state.Heavy)
	require.Contains(t, state.Reason, "max_messages")
}

func TestCheckBudget_HeavyOnTokenEstimate(t *testing.T) {
	big := make([]byte, 100000)
	for i := range big {
		big[i] = 'x'
	}
	messages := []store.Message{{Role: store.RoleUser, Content: string(big)}}
	state := synecontext.CheckBudget(messages, synecontext.ModelLimits{ContextWindow: 1000, ReservedOutputTokens: 0}, synecontext.DefaultSessionLimits())
	require.True(t, state.Heavy)
}

func TestCheckBudget_NotHeavy(t *testing.T) {
	messages := []store.Message{{Role: store.RoleUser, Content: "hello"}}
	state := synecontext.CheckBudget(messages, synecontext.ModelLimits{ContextWindow: 200000, ReservedOutputTokens: 8000}, synecontext.DefaultSessionLimits())
	require.False(t, state.Heavy)
}

type fakeProvider struct {
	summary string
}

func (f *fakeProvider) Chat(ctx stdcontext.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: f.summary}, nil
}

func (f *fakeProvider) ChatStream(ctx stdcontext.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

func TestCompactor_ReplacesPrefixKeepsTail(t *testing.T) {
	s := memstore.New()
	sess, err := s.CreateSession(stdcontext.Background(), "telegram", "chat-1")
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		_, err := s.AppendMessage(stdcontext.Background(), store.Message{
			SessionID: sess.ID,
			Role:      store.RoleUser,
			Content:   "message content",
		})
		require.NoError(t, err)
	}

	compactor := synecontext.NewCompactor(s, nil)
	ran, err := compactor.Compact(stdcontext.Background(), sess.ID, &fakeProvider{summary: "the user asked about X and Y"}, "fake-model")
	require.NoError(t, err)
	require.True(t, ran)

	msgs, err := s.ListMessages(stdcontext.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 26) // 1 summary + 25 tail

	require.True(t, msgs[0].IsCompactionSummary())
	require.Equal(t, "the user asked about X and Y", msgs[0].Content)
}

func TestCompactor_NoOpWhenUnderTail(t *testing.T) {
	s := memstore.New()
	sess, err := s.CreateSession(stdcontext.Background(), "telegram", "chat-2")
	require.NoError(t, err)
	_, err = s.AppendMessage(stdcontext.Background(), store.Message{SessionID: sess.ID, Role: store.RoleUser, Content: "hi"})
	require.NoError(t, err)

	compactor := synecontext.NewCompactor(s, nil)
	ran, err := compactor.Compact(stdcontext.Background(), sess.ID, &fakeProvider{summary: "unused"}, "fake-model")
	require.NoError(t, err)
	require.False(t, ran)
}
