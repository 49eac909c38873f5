// Package agent implements the Conversation Manager: the tool-calling loop
// for one (platform, chat_id) session. Modeled on internal/agent/loop.go's
// Loop type (Think->Act->Observe, iteration counter, activeRuns tracking),
// generalized from its original single-provider-per-Loop,
// multi-agent-delegation design to a per-turn model resolution against the
// Provider Registry and a single-conversation scope with no built-in
// delegation (delegation is the Sub-Agent Manager's job, spawned alongside,
// not folded into this loop).
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/comm"
	agentcontext "github.com/syneagent/syne/internal/context"
	"github.com/syneagent/syne/internal/prompt"
	"github.com/syneagent/syne/internal/providers"
	"github.com/syneagent/syne/internal/store"
	"github.com/syneagent/syne/internal/tools"
)

// toolLoopMax bounds step 7c: once a single turn has run more than this
// many tool-call round trips, the loop stops, persists a "tool loop
// exceeded" tool row and returns that same text as the turn's reply.
const toolLoopMax = 10

// Turn is one inbound message routed to the Conversation Manager.
type Turn struct {
	Platform     string
	ChatID       string
	UserID       uuid.UUID
	CallerAccess store.AccessLevel
	IsGroup      bool

	// UserPref/GroupOverride feed step 1's precedence chain; either may be
	// empty, in which case the registry's deployment-wide active model wins.
	UserPref      string
	GroupOverride string

	// Text is the user's message, persisted verbatim. Inbound carries the
	// channel-agnostic context used to build a per-turn-only prefix that is
	// never written to the store.
	Text    string
	Inbound comm.InboundContext

	// IncomingMessageID resolves [[reply_to_current]] tags.
	IncomingMessageID string
}

// Result is what the channel does with a completed turn.
type Result struct {
	Text             string
	MediaPath        string
	ReplyToMessageID string
	Reactions        []string
}

// AbilityPreprocessor gives a non-text input (an attached file, an image)
// a chance to produce derived text before the user message is persisted.
// No concrete ability currently registers one; this is the extension point
// a future ability wires into.
type AbilityPreprocessor func(ctx context.Context, turn Turn) (string, bool)

// RunHandle lets an external trigger (a "/cancel" command) cancel an
// in-flight turn for one (platform, chat_id) key.
type RunHandle struct {
	cancel context.CancelFunc
}

func (h *RunHandle) Cancel() { h.cancel() }

// Loop owns the per-turn tool-calling loop.
type Loop struct {
	store      store.Store
	providers  *providers.Registry
	tools      *tools.Registry
	prompts    *prompt.Builder
	models     *ModelCatalog
	sessionLim agentcontext.SessionLimits
	notify     agentcontext.NotifyFunc

	preprocess AbilityPreprocessor

	runs  sync.Map // key: "platform|chatID" -> *RunHandle
	turns sync.Map // key: "platform|chatID" -> *sync.Mutex serializing turns
}

func NewLoop(s store.Store, reg *providers.Registry, toolReg *tools.Registry, builder *prompt.Builder, notify agentcontext.NotifyFunc) *Loop {
	return &Loop{
		store:      s,
		providers:  reg,
		tools:      toolReg,
		prompts:    builder,
		models:     NewModelCatalog(s),
		sessionLim: agentcontext.DefaultSessionLimits(),
		notify:     notify,
	}
}

// SetAbilityPreprocessor registers the non-text-input hook (step 4).
func (l *Loop) SetAbilityPreprocessor(p AbilityPreprocessor) { l.preprocess = p }

func runKey(platform, chatID string) string { return platform + "|" + chatID }

// Cancel cancels the in-flight run for (platform, chatID), if any. It
// reports whether a run was found to cancel.
func (l *Loop) Cancel(platform, chatID string) bool {
	v, ok := l.runs.Load(runKey(platform, chatID))
	if !ok {
		return false
	}
	v.(*RunHandle).Cancel()
	return true
}

// Run executes the full per-turn algorithm and returns the text (and any
// reply/reaction/media directives) the channel should deliver.
func (l *Loop) Run(ctx context.Context, turn Turn) (*Result, error) {
	key := runKey(turn.Platform, turn.ChatID)
	mu, _ := l.turns.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	handle := &RunHandle{cancel: cancel}
	l.runs.Store(key, handle)
	defer func() {
		l.runs.Delete(key)
		cancel()
	}()

	// Step 1: resolve model.
	provider, model, err := l.providers.Resolve(turn.UserPref, turn.GroupOverride)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}
	modelEntry := l.models.Resolve(runCtx, model)

	session, err := l.loadOrCreateSession(runCtx, turn.Platform, turn.ChatID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	// Step 2/3: load existing history and compact it if heavy, before the
	// new turn's user message is added to the count.
	if err := l.ensureBudget(runCtx, session.ID, modelEntry, provider, model); err != nil {
		return nil, fmt.Errorf("check budget: %w", err)
	}

	// Step 4: ability pre-processing for non-text input.
	userText := turn.Text
	if l.preprocess != nil {
		if derived, ok := l.preprocess(runCtx, turn); ok {
			userText = derived
		}
	}

	// Step 5: persist the user message verbatim (no per-turn context
	// prefix — that is applied only to the live request built below).
	if _, err := l.store.AppendMessage(runCtx, store.Message{
		SessionID: session.ID,
		Role:      store.RoleUser,
		Content:   userText,
	}); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	messages, err := l.store.ListMessages(runCtx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("reload messages: %w", err)
	}

	// Step 2: assemble the system prompt and build this turn's live request
	// (the untrusted-context prefix decorates only the last user message,
	// never the persisted row).
	systemPrompt, err := l.buildSystemPrompt(runCtx, turn.CallerAccess, turn.IsGroup)
	if err != nil {
		return nil, fmt.Errorf("build system prompt: %w", err)
	}
	providerMessages := l.toProviderMessages(systemPrompt, messages, turn)

	toolDefs := l.toolDefinitions(turn.CallerAccess, turn.IsGroup)

	finalText, err := l.toolCallLoop(runCtx, session.ID, provider, model, providerMessages, toolDefs, turn)
	if err != nil {
		return nil, err
	}

	return l.postProcess(finalText, turn), nil
}

func (l *Loop) loadOrCreateSession(ctx context.Context, platform, chatID string) (store.Session, error) {
	existing, err := l.store.GetActiveSession(ctx, platform, chatID)
	if err != nil {
		return store.Session{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	return l.store.CreateSession(ctx, platform, chatID)
}

func (l *Loop) ensureBudget(ctx context.Context, sessionID uuid.UUID, model ModelEntry, provider providers.Provider, modelName string) error {
	messages, err := l.store.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	nonSystem := filterNonSystem(messages)
	limits := agentcontext.ModelLimits{ContextWindow: model.ContextWindow, ReservedOutputTokens: model.ReservedOutputTokens}
	state := agentcontext.CheckBudget(nonSystem, limits, l.sessionLim)
	if !state.Heavy {
		return nil
	}

	compactor := agentcontext.NewCompactor(l.store, l.notify)
	if _, err := compactor.Compact(ctx, sessionID, provider, modelName); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	return nil
}

func filterNonSystem(messages []store.Message) []store.Message {
	out := make([]store.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != store.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

func (l *Loop) buildSystemPrompt(ctx context.Context, callerAccess store.AccessLevel, isGroup bool) (string, error) {
	var toolDescs, abilityDescs []prompt.ToolDescriptor
	for _, t := range l.tools.Visible(callerAccess, isGroup) {
		schemaJSON, _ := json.Marshal(t.Schema())
		toolDescs = append(toolDescs, prompt.ToolDescriptor{
			Name:                 t.Name(),
			Description:          t.Description(),
			ParametersJSONSchema: string(schemaJSON),
			RequiredAccessLevel:  t.RequiredAccessLevel(),
		})
	}

	abilities, err := l.store.ListAbilities(ctx)
	if err != nil {
		return "", err
	}
	var abilityState []prompt.AbilityStatus
	for _, a := range abilities {
		abilityState = append(abilityState, prompt.AbilityStatus{
			Name:    a.Name,
			Enabled: a.Enabled,
			Ready:   a.Enabled,
		})
	}

	return l.prompts.Build(ctx, prompt.Request{
		CallerAccess: callerAccess,
		Tools:        toolDescs,
		Abilities:    abilityDescs,
		AbilityState: abilityState,
	})
}

func (l *Loop) toProviderMessages(systemPrompt string, messages []store.Message, turn Turn) []providers.Message {
	out := make([]providers.Message, 0, len(messages)+2)
	out = append(out, providers.Message{Role: string(store.RoleSystem), Content: systemPrompt})

	for i, m := range messages {
		content := m.Content
		// Decorate only the live (last) user message with the per-turn
		// untrusted-context prefix; the stored row stays verbatim.
		if i == len(messages)-1 && m.Role == store.RoleUser && turn.Inbound.ChatID != "" {
			content = comm.BuildUserContextPrefix(turn.Inbound) + "\n" + content
		}
		out = append(out, providers.Message{
			Role:       string(m.Role),
			Content:    content,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

func (l *Loop) toolDefinitions(callerAccess store.AccessLevel, isGroup bool) []providers.ToolDefinition {
	visible := l.tools.Visible(callerAccess, isGroup)
	defs := make([]providers.ToolDefinition, 0, len(visible))
	for _, t := range visible {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			},
		})
	}
	return defs
}

// toolCallLoop implements steps 6-8: stream a provider turn, dispatch any
// tool calls it emits, and repeat until the model stops calling tools or
// toolLoopMax round trips have elapsed.
func (l *Loop) toolCallLoop(ctx context.Context, sessionID uuid.UUID, provider providers.Provider, model string, messages []providers.Message, toolDefs []providers.ToolDefinition, turn Turn) (string, error) {
	var thinking string
	iteration := 0

	for {
		req := providers.ChatRequest{Messages: messages, Tools: toolDefs, Model: model}
		resp, err := provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
			if chunk.Thinking != "" {
				thinking += chunk.Thinking
			}
		})
		if err != nil {
			return "", fmt.Errorf("provider turn: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			// Step 8: no tool calls, persist and return.
			if _, err := l.store.AppendMessage(ctx, store.Message{
				SessionID: sessionID,
				Role:      store.RoleAssistant,
				Content:   resp.Content,
			}); err != nil {
				return "", fmt.Errorf("persist assistant message: %w", err)
			}
			return l.withThinking(ctx, resp.Content, model, thinking), nil
		}

		// Step 7a: persist the assistant message's text-so-far. The tool calls
		// are not stored on this row; each call's id, name and arguments are
		// stored on the tool row that records its result (step 7b).
		assistantMsg := store.Message{
			SessionID: sessionID,
			Role:      store.RoleAssistant,
			Content:   resp.Content,
		}
		if _, err := l.store.AppendMessage(ctx, assistantMsg); err != nil {
			return "", fmt.Errorf("persist assistant message: %w", err)
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Step 7b: dispatch each tool call, persist its result.
		for _, call := range resp.ToolCalls {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
			}

			argsJSON, marshalErr := json.Marshal(call.Arguments)
			if marshalErr != nil {
				argsJSON = json.RawMessage("{}")
			}

			result, dispatchErr := l.tools.Dispatch(ctx, call.Name, argsJSON, tools.Call{
				CallerAccess: turn.CallerAccess,
				IsGroup:      turn.IsGroup,
				UserID:       turn.UserID.String(),
				SessionID:    sessionID,
				Platform:     turn.Platform,
				ChatID:       turn.ChatID,
			})
			if dispatchErr != nil {
				result = tools.ErrorResult(dispatchErr.Error())
			}

			if _, err := l.store.AppendMessage(ctx, store.Message{
				SessionID:  sessionID,
				Role:       store.RoleTool,
				Content:    result.ForLLM,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				ToolArgs:   argsJSON,
			}); err != nil {
				return "", fmt.Errorf("persist tool message: %w", err)
			}

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})
		}

		// Step 7c: iteration guard.
		iteration++
		if iteration > toolLoopMax {
			const loopExceeded = "tool loop exceeded"
			if _, err := l.store.AppendMessage(ctx, store.Message{
				SessionID: sessionID,
				Role:      store.RoleTool,
				Content:   loopExceeded,
			}); err != nil {
				return "", fmt.Errorf("persist loop-exceeded message: %w", err)
			}
			return loopExceeded, nil
		}
		// Step 7d: loop to step 6 with the updated messages.
	}
}

// withThinking prepends a fenced thinking block when the resolved model's
// reasoning is configured visible and the provider surfaced one.
func (l *Loop) withThinking(ctx context.Context, content, model, thinking string) string {
	entry := l.models.Resolve(ctx, model)
	if !entry.ReasoningVisible || thinking == "" {
		return content
	}
	return fmt.Sprintf("💭 Thinking\n```\n%s\n```\n\n%s", thinking, content)
}

// postProcess extracts the reply/react tag grammar, runs the content
// sanitizer over whatever text remains, and then applies the outbound
// pipeline (path stripping, narration removal, MEDIA: extraction).
func (l *Loop) postProcess(text string, turn Turn) *Result {
	text, replyTo := comm.ParseReplyTag(text, turn.IncomingMessageID)
	text, reactions := comm.ParseReactTags(text)
	text = SanitizeAssistantContent(text)

	outbound := comm.ProcessOutbound(text)
	return &Result{
		Text:             outbound.Text,
		MediaPath:        outbound.MediaPath,
		ReplyToMessageID: replyTo,
		Reactions:        reactions,
	}
}
