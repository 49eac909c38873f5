package prompt_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syneagent/syne/internal/prompt"
	"github.com/syneagent/syne/internal/store"
	"github.com/syneagent/syne/internal/store/memstore"
)

func TestBuilder_BuildIncludesAllSections(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	require.NoError(t, s.SetIdentity(ctx, store.Identity{Name: "Syne", Motto: "be useful"}))
	require.NoError(t, s.UpsertConfig(ctx, "credential.telegram_token", json.RawMessage(`"secret-value"`), "bot token"))
	require.NoError(t, s.UpsertConfig(ctx, "session.max_messages", json.RawMessage(`100`), "max messages per session"))

	b := prompt.NewBuilder(s)
	out, err := b.Build(ctx, prompt.Request{
		CallerAccess: store.AccessOwner,
		Tools: []prompt.ToolDescriptor{
			{Name: "exec", Description: "run a shell command", RequiredAccessLevel: store.AccessOwner},
			{Name: "memory_search", Description: "recall a memory", RequiredAccessLevel: store.AccessPublic},
		},
		AbilityState: []prompt.AbilityStatus{
			{Name: "vision", Enabled: true, Ready: false, Reason: "missing API key"},
		},
	})
	require.NoError(t, err)

	require.Contains(t, out, "Syne")
	require.Contains(t, out, "be useful")
	require.Contains(t, out, "Propose before execute")
	require.Contains(t, out, "# Tools")
	require.Contains(t, out, "exec")
	require.Contains(t, out, "Function calling discipline")
	require.Contains(t, out, "# Core Security Rules")
	require.Contains(t, out, "update_config")
	require.Contains(t, out, "vision: unconfigured (missing API key)")
	require.Contains(t, out, "session.max_messages = 100")
	require.Contains(t, out, "credential.telegram_token = [redacted]")
	require.NotContains(t, out, "secret-value")
}

func TestBuilder_ToolSectionHidesRequiresHigherAccess(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.SetIdentity(ctx, store.Identity{Name: "Syne"}))

	b := prompt.NewBuilder(s)
	out, err := b.Build(ctx, prompt.Request{
		CallerAccess: store.AccessPublic,
		Tools: []prompt.ToolDescriptor{
			{Name: "exec", Description: "run a shell command", RequiredAccessLevel: store.AccessOwner},
		},
	})
	require.NoError(t, err)
	require.NotContains(t, out, "# Tools")
}
