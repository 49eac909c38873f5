package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syneagent/syne/internal/memory"
	"github.com/syneagent/syne/internal/store"
	"github.com/syneagent/syne/internal/store/memstore"
)

// fakeEmbedder returns a deterministic vector derived from the text so tests
// can control similarity by constructing near-identical strings.
type fakeEmbedder struct{ vectors map[string][]float32 }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (f *fakeEmbedder) EmbedModel() string { return "fake" }
func (f *fakeEmbedder) EmbedDimension() int { return 3 }

func TestStoreIfNew_InsertsWhenDissimilar(t *testing.T) {
	s := memstore.New()
	e := memory.NewEngine(s, &fakeEmbedder{vectors: map[string][]float32{
		"likes pizza":  {1, 0, 0},
		"owns a boat":  {0, 1, 0},
	}})
	ctx := context.Background()

	r1, err := e.StoreIfNew(ctx, memory.StoreRequest{Content: "likes pizza"})
	require.NoError(t, err)
	require.False(t, r1.Skipped)
	require.False(t, r1.Updated)

	r2, err := e.StoreIfNew(ctx, memory.StoreRequest{Content: "owns a boat"})
	require.NoError(t, err)
	require.False(t, r2.Skipped)
	require.NotEqual(t, r1.ID, r2.ID)
}

func TestStoreIfNew_SkipsExactDuplicate(t *testing.T) {
	s := memstore.New()
	e := memory.NewEngine(s, &fakeEmbedder{vectors: map[string][]float32{
		"likes pizza":       {1, 0, 0},
		"likes pizza a lot": {1, 0, 0}, // identical vector -> similarity 1.0
	}})
	ctx := context.Background()

	first, err := e.StoreIfNew(ctx, memory.StoreRequest{Content: "likes pizza"})
	require.NoError(t, err)

	second, err := e.StoreIfNew(ctx, memory.StoreRequest{Content: "likes pizza a lot"})
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.Equal(t, first.ID, second.ID)
}

func TestStoreIfNew_UpdatesInConflictZone(t *testing.T) {
	s := memstore.New()
	// Vectors ~0.8 cosine similarity apart land in the 0.70-0.85 conflict zone.
	e := memory.NewEngine(s, &fakeEmbedder{vectors: map[string][]float32{
		"favorite color is blue":  {1, 0, 0},
		"favorite color is green": {0.8, 0.6, 0},
	}})
	ctx := context.Background()

	first, err := e.StoreIfNew(ctx, memory.StoreRequest{Content: "favorite color is blue"})
	require.NoError(t, err)

	second, err := e.StoreIfNew(ctx, memory.StoreRequest{Content: "favorite color is green"})
	require.NoError(t, err)
	require.True(t, second.Updated)
	require.Equal(t, first.ID, second.ID)

	all, err := s.AllMemoryEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "favorite color is green", all[0].Content)
}

func TestRecall_Rule760FiltersPrivateCategories(t *testing.T) {
	s := memstore.New()
	e := memory.NewEngine(s, &fakeEmbedder{})
	ctx := context.Background()

	_, err := s.InsertMemory(ctx, store.Memory{
		Content: "mom's birthday is in June", Category: "family", Embedding: []float32{1, 0, 0},
	})
	require.NoError(t, err)
	_, err = s.InsertMemory(ctx, store.Memory{
		Content: "the office opens at 9am", Category: "fact", Embedding: []float32{1, 0, 0},
	})
	require.NoError(t, err)

	publicResults, err := e.Recall(ctx, memory.RecallRequest{
		Query: "anything", RequesterAccess: store.AccessPublic, MinSimilarity: 0,
	})
	require.NoError(t, err)
	for _, m := range publicResults {
		require.NotEqual(t, "family", m.Category)
	}

	ownerResults, err := e.Recall(ctx, memory.RecallRequest{
		Query: "anything", RequesterAccess: store.AccessOwner, MinSimilarity: 0,
	})
	require.NoError(t, err)
	require.Len(t, ownerResults, 2)
}

func TestDedup_KeepsHigherImportance(t *testing.T) {
	s := memstore.New()
	e := memory.NewEngine(s, &fakeEmbedder{})
	ctx := context.Background()

	lowID, err := s.InsertMemory(ctx, store.Memory{Content: "a", Embedding: []float32{1, 0, 0}, Importance: 0.2})
	require.NoError(t, err)
	highID, err := s.InsertMemory(ctx, store.Memory{Content: "b", Embedding: []float32{1, 0, 0}, Importance: 0.9})
	require.NoError(t, err)

	result, err := e.Dedup(ctx, 0.85, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.DuplicatesFound)
	require.Contains(t, result.DeletedIDs, lowID)
	require.Contains(t, result.KeptIDs, highID)

	remaining, err := s.AllMemoryEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, highID, remaining[0].ID)
}

func TestHandleEmbeddingDimensionChange_DropsOnWidthMismatch(t *testing.T) {
	s := memstore.New()
	e := memory.NewEngine(s, &fakeEmbedder{})
	ctx := context.Background()

	_, err := s.InsertMemory(ctx, store.Memory{Content: "a", Embedding: make([]float32, 768)})
	require.NoError(t, err)

	require.NoError(t, e.HandleEmbeddingDimensionChange(ctx, 1024))

	count, err := s.CountMemories(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}
