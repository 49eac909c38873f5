// Package memory implements the long-term, semantically searchable memory
// store: embed-on-write, conflict-aware store_if_new, similarity recall with
// the Rule-760 family-privacy filter, and pairwise dedup. Grounded on
// original_source/syne/memory/engine.py — the three-zone store_if_new
// policy, the recall-then-filter-then-touch sequencing, and the
// higher-importance/older-id dedup tiebreak all follow that module's
// behavior, rewritten against the typed store.Store/providers.Embedder
// interfaces instead of ad hoc asyncpg calls.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/providers"
	"github.com/syneagent/syne/internal/store"
)

// Default thresholds for store_if_new's conflict policy.
const (
	DefaultConflictThreshold   = 0.70
	DefaultDuplicateThreshold  = 0.85
	DefaultRecallMinSimilarity = 0.3
)

// Engine wires a Store to the active embedding provider.
type Engine struct {
	store    store.Store
	embedder providers.Embedder
}

func NewEngine(s store.Store, embedder providers.Embedder) *Engine {
	return &Engine{store: s, embedder: embedder}
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("memory: no embedding provider configured")
	}
	vecs, err := e.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, providers.NewError(providers.ErrEmptyResponse, "embedder", e.embedder.EmbedModel(), nil)
	}
	return vecs[0], nil
}

// Store inserts a memory unconditionally (no conflict check), matching
// engine.py's plain `store()`.
func (e *Engine) Store(ctx context.Context, content, category, source string, userID *uuid.UUID, importance float64) (int64, error) {
	vec, err := e.embed(ctx, content)
	if err != nil {
		return 0, err
	}
	return e.store.InsertMemory(ctx, store.Memory{
		Content:    content,
		Category:   category,
		Embedding:  vec,
		Source:     source,
		UserID:     userID,
		Importance: importance,
	})
}

// StoreIfNewResult distinguishes the three store_if_new outcomes so callers
// (e.g. the auto-capture ability) can report what happened without
// inspecting a sentinel ID value.
type StoreIfNewResult struct {
	ID      int64
	Skipped bool // true when an existing row was judged a duplicate
	Updated bool // true when an existing row was updated in place
}

// StoreIfNew runs the conflict policy:
//  1. embed the candidate
//  2. find the nearest neighbor with similarity >= conflictThreshold
//  3. similarity >= duplicateThreshold  -> skip (duplicate)
//  4. conflictThreshold <= similarity  -> update the existing row in place
//  5. otherwise                         -> insert a new row
func (e *Engine) StoreIfNew(ctx context.Context, req StoreRequest) (StoreIfNewResult, error) {
	req.applyDefaults()

	vec, err := e.embed(ctx, req.Content)
	if err != nil {
		return StoreIfNewResult{}, err
	}

	// Conflict detection scans across every category, matching
	// engine.py's store_if_new (its recall() call passes no category filter).
	nearest, err := e.store.MemoryNearest(ctx, vec, 1, store.MemoryFilters{})
	if err != nil {
		return StoreIfNewResult{}, err
	}

	// MemoryNearest orders by similarity descending, so the first row (if any
	// clears the conflict threshold) is the sole candidate for update/skip.
	var best *store.Memory
	if len(nearest) > 0 && nearest[0].Similarity >= req.ConflictThreshold {
		best = &nearest[0]
	}

	if best == nil {
		id, err := e.store.InsertMemory(ctx, store.Memory{
			Content:    req.Content,
			Category:   req.Category,
			Embedding:  vec,
			Source:     req.Source,
			UserID:     req.UserID,
			Importance: req.Importance,
		})
		if err != nil {
			return StoreIfNewResult{}, err
		}
		return StoreIfNewResult{ID: id}, nil
	}

	if best.Similarity >= req.DuplicateThreshold {
		return StoreIfNewResult{ID: best.ID, Skipped: true}, nil
	}

	if err := e.store.UpdateMemory(ctx, best.ID, req.Content, vec, req.Category, req.Source, req.Importance); err != nil {
		return StoreIfNewResult{}, err
	}
	return StoreIfNewResult{ID: best.ID, Updated: true}, nil
}

// StoreRequest bundles store_if_new's inputs with their engine.py defaults.
type StoreRequest struct {
	Content            string
	Category           string
	Source             string
	UserID             *uuid.UUID
	Importance         float64
	ConflictThreshold  float64
	DuplicateThreshold float64
}

func (r *StoreRequest) applyDefaults() {
	if r.Category == "" {
		r.Category = "fact"
	}
	if r.Source == "" {
		r.Source = "user_confirmed"
	}
	if r.Importance == 0 {
		r.Importance = 0.5
	}
	if r.ConflictThreshold == 0 {
		r.ConflictThreshold = DefaultConflictThreshold
	}
	if r.DuplicateThreshold == 0 {
		r.DuplicateThreshold = DefaultDuplicateThreshold
	}
}

// RecallRequest bundles recall's filters and the requester's standing, which
// drives the Rule-760 privacy filter.
type RecallRequest struct {
	Query               string
	K                   int
	MinSimilarity       float64
	Category            string
	UserID              *uuid.UUID
	RequesterAccess     store.AccessLevel
	PrivacyCategoryFunc func(category string) bool // overridable for tests; defaults to store.PrivateMemoryCategories
}

// Recall runs the nearest-neighbor query, drops rows under MinSimilarity,
// applies the Rule-760 family-privacy filter, and touches access stats on
// every surviving row — matching engine.py's recall() sequencing exactly
// (filter happens before the access_count update, so filtered rows are never
// touched).
func (e *Engine) Recall(ctx context.Context, req RecallRequest) ([]store.Memory, error) {
	if req.K <= 0 {
		req.K = 10
	}
	if req.MinSimilarity == 0 {
		req.MinSimilarity = DefaultRecallMinSimilarity
	}
	isPrivate := req.PrivacyCategoryFunc
	if isPrivate == nil {
		isPrivate = func(c string) bool { return store.PrivateMemoryCategories[c] }
	}

	vec, err := e.embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	rows, err := e.store.MemoryNearest(ctx, vec, req.K, store.MemoryFilters{Category: req.Category, UserID: req.UserID})
	if err != nil {
		return nil, err
	}

	var surviving []store.Memory
	var touchIDs []int64
	for _, m := range rows {
		if m.Similarity < req.MinSimilarity {
			continue
		}
		if isPrivate(m.Category) && !req.RequesterAccess.AtLeast(store.AccessFamily) {
			// Rule 760: personal_info/family/health/medical is owner|family only.
			continue
		}
		surviving = append(surviving, m)
		touchIDs = append(touchIDs, m.ID)
	}

	if len(touchIDs) > 0 {
		if err := e.store.TouchMemoryAccess(ctx, touchIDs); err != nil {
			return nil, err
		}
	}
	return surviving, nil
}

// DedupResult reports what dedup found/removed.
type DedupResult struct {
	DuplicatesFound int
	DeletedIDs      []int64
	KeptIDs         []int64
}

// Dedup performs a pairwise comparison of every memory with an embedding,
// keeping the higher-importance row (ties broken by older id) and deleting
// the rest — matching engine.py's O(n^2) pairwise scan. N is expected to stay
// small (long-term memory, not a message log), so the quadratic comparison
// is the same tradeoff the source makes.
func (e *Engine) Dedup(ctx context.Context, threshold float64, dryRun bool) (DedupResult, error) {
	if threshold == 0 {
		threshold = DefaultDuplicateThreshold
	}
	rows, err := e.store.AllMemoryEmbeddings(ctx)
	if err != nil {
		return DedupResult{}, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	deleted := map[int64]bool{}
	var result DedupResult

	for i := 0; i < len(rows); i++ {
		if deleted[rows[i].ID] {
			continue
		}
		for j := i + 1; j < len(rows); j++ {
			if deleted[rows[j].ID] {
				continue
			}
			sim := cosineSimilarity(rows[i].Embedding, rows[j].Embedding)
			if sim < threshold {
				continue
			}
			keep, remove := rows[i], rows[j]
			if rows[j].Importance > rows[i].Importance {
				keep, remove = rows[j], rows[i]
			}
			deleted[remove.ID] = true
			result.DuplicatesFound++
			result.KeptIDs = append(result.KeptIDs, keep.ID)
		}
	}

	for id := range deleted {
		result.DeletedIDs = append(result.DeletedIDs, id)
	}
	sort.Slice(result.DeletedIDs, func(i, j int) bool { return result.DeletedIDs[i] < result.DeletedIDs[j] })

	if !dryRun {
		for _, id := range result.DeletedIDs {
			if err := e.store.DeleteMemory(ctx, id); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HandleEmbeddingDimensionChange enforces the single-dimension invariant on
// the vector column: when the operator activates an embedding model whose
// dimension differs from what's already stored, every existing
// embedding is dropped and the HNSW index is rebuilt for the new width. Two
// distinct N's never coexist in the column.
func (e *Engine) HandleEmbeddingDimensionChange(ctx context.Context, newDim int) error {
	existing, err := e.store.AllMemoryEmbeddings(ctx)
	if err != nil {
		return err
	}
	var currentDim int
	for _, m := range existing {
		if len(m.Embedding) > 0 {
			currentDim = len(m.Embedding)
			break
		}
	}
	if currentDim != 0 && currentDim != newDim {
		if err := e.store.DropAllEmbeddings(ctx); err != nil {
			return err
		}
	}
	return e.store.EnsureVectorIndex(ctx, newDim)
}
