package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/syneagent/syne/internal/memory"
	"github.com/syneagent/syne/internal/store"
)

// MemorySearchArgs is memory_search's argument shape, reflected into its
// JSON schema.
type MemorySearchArgs struct {
	Query    string `json:"query" jsonschema:"required,description=Natural-language memory query"`
	Category string `json:"category,omitempty" jsonschema:"description=Restrict results to a single memory category"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results, default 10"`
}

// MemorySearchTool wraps memory.Engine.Recall, giving the model a dispatch
// path onto the similarity-search half of the memory engine. The
// Rule-760 family-privacy filter runs inside Recall itself, keyed off the
// caller's access level, so results a public caller shouldn't see never
// reach this tool's output.
type MemorySearchTool struct {
	engine *memory.Engine
}

func NewMemorySearchTool(engine *memory.Engine) *MemorySearchTool {
	return &MemorySearchTool{engine: engine}
}

func (t *MemorySearchTool) Name() string        { return "memory_search" }
func (t *MemorySearchTool) Description() string { return "Search long-term memory for facts relevant to a query" }
func (t *MemorySearchTool) RequiredAccessLevel() store.AccessLevel { return "" }

func (t *MemorySearchTool) Schema() map[string]any {
	schema, err := generateSchema[MemorySearchArgs]()
	if err != nil {
		return nil
	}
	return schema
}

func (t *MemorySearchTool) Execute(ctx context.Context, call Call) (*Result, error) {
	query, _ := call.Args["query"].(string)
	if query == "" {
		return ErrorResult("query is required"), nil
	}
	category, _ := call.Args["category"].(string)
	limit := 10
	if l, ok := call.Args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	rows, err := t.engine.Recall(ctx, memory.RecallRequest{
		Query:           query,
		K:               limit,
		Category:        category,
		RequesterAccess: call.CallerAccess,
	})
	if err != nil {
		return nil, fmt.Errorf("memory recall: %w", err)
	}
	if len(rows) == 0 {
		return SilentResult("no matching memories found"), nil
	}

	var b strings.Builder
	for _, m := range rows {
		fmt.Fprintf(&b, "[%d] (%s, importance=%.2f) %s\n", m.ID, m.Category, m.Importance, m.Content)
	}
	return SilentResult(strings.TrimRight(b.String(), "\n")), nil
}
