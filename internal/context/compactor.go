package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/providers"
	"github.com/syneagent/syne/internal/store"
)

// tailSize is K, the number of most recent non-system messages kept
// verbatim across a compaction.
const tailSize = 25

// maxSummaryChars bounds the compaction summary to a single paragraph.
const maxSummaryChars = 2000

const summarizationPrompt = `Summarize the conversation above in a single paragraph of at most 2000 characters.
Preserve: every user-stated fact, any pending or incomplete task, tool results that affect
later turns, and the user's preferred language and tone. Do not include commentary about
this instruction itself — output only the summary paragraph.`

// NotifyFunc delivers a best-effort status string to a session's channel.
type NotifyFunc func(sessionID uuid.UUID, message string)

// Compactor runs the compaction algorithm for one session when the budget
// check reports "heavy": summarize everything but the last K=25 messages
// via the chat provider, then atomically replace that prefix with one
// synthetic assistant row.
type Compactor struct {
	store  store.Store
	notify NotifyFunc
}

func NewCompactor(s store.Store, notify NotifyFunc) *Compactor {
	return &Compactor{store: s, notify: notify}
}

// Compact fetches the session's non-system messages, summarizes every
// message before the last K=25, and replaces that prefix with one
// compaction_summary row inside a single transaction. It is a no-op
// (returns false) if there is no prefix to summarize.
func (c *Compactor) Compact(ctx context.Context, sessionID uuid.UUID, provider providers.Provider, model string) (bool, error) {
	all, err := c.store.ListMessages(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("list messages: %w", err)
	}

	var nonSystem []store.Message
	for _, m := range all {
		if m.Role != store.RoleSystem {
			nonSystem = append(nonSystem, m)
		}
	}
	if len(nonSystem) <= tailSize {
		return false, nil
	}

	prefix := nonSystem[:len(nonSystem)-tailSize]

	summary, err := c.summarize(ctx, provider, model, prefix)
	if err != nil {
		return false, fmt.Errorf("summarize prefix: %w", err)
	}

	err = c.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.ReplacePrefixWithSummary(ctx, sessionID, tailSize, summary)
	})
	if err != nil {
		return false, fmt.Errorf("replace prefix with summary: %w", err)
	}

	if c.notify != nil {
		c.notify(sessionID, "Compacted older messages to make room for new ones.")
	}

	return true, nil
}

func (c *Compactor) summarize(ctx context.Context, provider providers.Provider, model string, prefix []store.Message) (string, error) {
	req := providers.ChatRequest{
		Model:    model,
		Messages: append(toProviderMessages(prefix), providers.Message{Role: "user", Content: summarizationPrompt}),
	}
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if len(summary) > maxSummaryChars {
		summary = truncateRunes(summary, maxSummaryChars)
	}
	return summary, nil
}

func toProviderMessages(messages []store.Message) []providers.Message {
	out := make([]providers.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, providers.Message{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID})
	}
	return out
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
