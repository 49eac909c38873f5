// Package context implements the Context Manager & Compactor: per-session
// token-budget estimation, the "heavy" decision, and the compaction
// algorithm that folds an old message prefix into one summary row.
// Grounded on teradata-labs-loom's pkg/agent/token_counter.go (the
// TokenCounter/TokenBudget shapes this package's Estimator and Limits
// mirror) and original_source/syne/memory/engine.py's sibling scheduler
// code for how a compaction summary is persisted as an ordinary assistant
// row.
package context

import (
	"fmt"
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/syneagent/syne/internal/store"
)

// roleOverhead is the fixed per-message token cost added on top of content
// length to account for role/formatting wrapper tokens.
const roleOverhead = 4

// ModelLimits are the context-window properties of the currently active
// model entry. They are read fresh every turn (not cached across model
// switches) because a resolved-model change mid-session changes the budget.
type ModelLimits struct {
	ContextWindow        int
	ReservedOutputTokens int
}

// UsableBudget is the number of input tokens available to a turn.
func (m ModelLimits) UsableBudget() int {
	return m.ContextWindow - m.ReservedOutputTokens
}

// SessionLimits are the configured `session.*` thresholds (config keys
// "session.max_messages" / "session.compaction_threshold").
type SessionLimits struct {
	MaxMessages         int
	CompactionThreshold int
}

// DefaultSessionLimits matches the documented defaults.
func DefaultSessionLimits() SessionLimits {
	return SessionLimits{MaxMessages: 100, CompactionThreshold: 150000}
}

// Estimator counts tokens for budget decisions. It prefers an exact
// tiktoken encoding (cl100k_base, a close approximation across vendors)
// and falls back to the documented heuristic — ceil(len(content)/3.5) —
// if the encoder fails to initialize, mirroring loom's
// TokenCounter/GetTokenCounter fallback-to-char-estimate behavior.
type Estimator struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

var (
	defaultEstimator     *Estimator
	defaultEstimatorOnce sync.Once
)

// DefaultEstimator returns a process-wide Estimator, initialized once.
func DefaultEstimator() *Estimator {
	defaultEstimatorOnce.Do(func() {
		defaultEstimator = &Estimator{}
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			defaultEstimator.encoder = enc
		}
	})
	return defaultEstimator
}

// CountTokens estimates the token count of a single string.
func (e *Estimator) CountTokens(content string) int {
	if e.encoder != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.encoder.Encode(content, nil, nil))
	}
	return int(math.Ceil(float64(len(content)) / 3.5))
}

// EstimateMessage returns one message's contribution to the budget: its
// content tokens plus the fixed role overhead.
func (e *Estimator) EstimateMessage(m store.Message) int {
	return e.CountTokens(m.Content) + roleOverhead
}

// EstimateSession sums every message's contribution.
func (e *Estimator) EstimateSession(messages []store.Message) int {
	total := 0
	for _, m := range messages {
		total += e.EstimateMessage(m)
	}
	return total
}

// BudgetState is the result of a single heaviness check, returned so a
// caller can log/report why compaction did or did not trigger.
type BudgetState struct {
	EstimatedTokens int
	UsableBudget    int
	MessageCount    int
	TotalChars      int
	Heavy           bool
	Reason          string
}

// CheckBudget evaluates the three heaviness conditions against the given
// non-system message set: estimated tokens at or above 90% of the usable
// budget, message count at or above the configured max, or total
// characters at or above the configured compaction threshold.
func CheckBudget(messages []store.Message, model ModelLimits, limits SessionLimits) BudgetState {
	est := DefaultEstimator()
	estimated := est.EstimateSession(messages)
	usable := model.UsableBudget()

	totalChars := 0
	for _, m := range messages {
		totalChars += len(m.Content)
	}

	state := BudgetState{
		EstimatedTokens: estimated,
		UsableBudget:    usable,
		MessageCount:    len(messages),
		TotalChars:      totalChars,
	}

	switch {
	case usable > 0 && estimated >= int(math.Ceil(float64(usable)*0.9)):
		state.Heavy = true
		state.Reason = fmt.Sprintf("estimated %d tokens >= 90%% of %d usable", estimated, usable)
	case limits.MaxMessages > 0 && len(messages) >= limits.MaxMessages:
		state.Heavy = true
		state.Reason = fmt.Sprintf("message count %d >= session.max_messages %d", len(messages), limits.MaxMessages)
	case limits.CompactionThreshold > 0 && totalChars >= limits.CompactionThreshold:
		state.Heavy = true
		state.Reason = fmt.Sprintf("total chars %d >= session.compaction_threshold %d", totalChars, limits.CompactionThreshold)
	}

	return state
}
