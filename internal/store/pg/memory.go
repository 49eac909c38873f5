package pg

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/syneagent/syne/internal/store"
)

func (s *Store) InsertMemory(ctx context.Context, m store.Memory) (int64, error) {
	var id int64
	err := s.db().QueryRow(ctx, `
		INSERT INTO memory (content, category, embedding, source, user_id, importance)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, m.Content, m.Category, pgvector.NewVector(m.Embedding), m.Source, m.UserID, m.Importance).Scan(&id)
	return id, err
}

func (s *Store) UpdateMemory(ctx context.Context, id int64, content string, embedding []float32, category, source string, importance float64) error {
	tag, err := s.db().Exec(ctx, `
		UPDATE memory SET content = $2, embedding = $3, category = $4, source = $5, importance = $6
		WHERE id = $1
	`, id, content, pgvector.NewVector(embedding), category, source, importance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NewNotFoundError("memory")
	}
	return nil
}

func (s *Store) DeleteMemory(ctx context.Context, id int64) error {
	_, err := s.db().Exec(ctx, `DELETE FROM memory WHERE id = $1`, id)
	return err
}

// MemoryNearest ranks by cosine distance (pgvector's <=> operator) and
// returns Similarity as 1 - distance so callers compare against the same
// 0..1 thresholds the in-memory store computes directly.
func (s *Store) MemoryNearest(ctx context.Context, query []float32, k int, filters store.MemoryFilters) ([]store.Memory, error) {
	args := []any{pgvector.NewVector(query)}
	where := "embedding IS NOT NULL"
	if filters.Category != "" {
		args = append(args, filters.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filters.UserID != nil {
		args = append(args, *filters.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	limit := k
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)

	query_ := fmt.Sprintf(`
		SELECT id, content, category, embedding, source, user_id, importance, access_count, created_at, accessed_at,
		       1 - (embedding <=> $1) AS similarity
		FROM memory
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, where, len(args))

	rows, err := s.db().Query(ctx, query_, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Memory
	for rows.Next() {
		var m store.Memory
		var vec pgvector.Vector
		if err := rows.Scan(&m.ID, &m.Content, &m.Category, &vec, &m.Source, &m.UserID,
			&m.Importance, &m.AccessCount, &m.CreatedAt, &m.AccessedAt, &m.Similarity); err != nil {
			return nil, err
		}
		m.Embedding = vec.Slice()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) TouchMemoryAccess(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db().Exec(ctx, `
		UPDATE memory SET access_count = access_count + 1, accessed_at = now() WHERE id = ANY($1)
	`, ids)
	return err
}

func (s *Store) AllMemoryEmbeddings(ctx context.Context) ([]store.Memory, error) {
	rows, err := s.db().Query(ctx, `
		SELECT id, content, category, embedding, source, user_id, importance, access_count, created_at, accessed_at
		FROM memory ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Memory
	for rows.Next() {
		var m store.Memory
		var vec pgvector.Vector
		if err := rows.Scan(&m.ID, &m.Content, &m.Category, &vec, &m.Source, &m.UserID,
			&m.Importance, &m.AccessCount, &m.CreatedAt, &m.AccessedAt); err != nil {
			return nil, err
		}
		m.Embedding = vec.Slice()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountMemories(ctx context.Context) (int64, error) {
	var n int64
	err := s.db().QueryRow(ctx, `SELECT count(*) FROM memory`).Scan(&n)
	return n, err
}

// DropAllEmbeddings clears every row's vector (not the row itself) so a
// subsequent insert at a new embedding dimension is never mixed with stale
// vectors of a different width.
func (s *Store) DropAllEmbeddings(ctx context.Context) error {
	_, err := s.db().Exec(ctx, `UPDATE memory SET embedding = NULL`)
	return err
}

// EnsureVectorIndex creates the HNSW index once a concrete dimension is
// known. pgvector cannot index an unconstrained "vector" column, so this
// pins the column type to vector(dim) first; it is a no-op if already pinned
// at that width.
func (s *Store) EnsureVectorIndex(ctx context.Context, dim int) error {
	_, err := s.db().Exec(ctx, fmt.Sprintf(`ALTER TABLE memory ALTER COLUMN embedding TYPE vector(%d)`, dim))
	if err != nil {
		return fmt.Errorf("pin embedding dimension to %d: %w", dim, err)
	}
	_, err = s.db().Exec(ctx, `
		CREATE INDEX IF NOT EXISTS memory_embedding_hnsw
		ON memory USING hnsw (embedding vector_cosine_ops)
	`)
	return err
}
