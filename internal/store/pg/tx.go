package pg

import (
	"context"

	"github.com/syneagent/syne/internal/store"
)

// WithTx runs fn with a Store scoped to a single transaction. Compaction
// (ReplacePrefixWithSummary) always runs inside one of these so the prefix
// delete and the summary-row insert commit or roll back together.
func (s *Store) WithTx(ctx context.Context, fn store.TxFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	scoped := &Store{pool: s.pool, tx: tx}
	if err := fn(ctx, scoped); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}
