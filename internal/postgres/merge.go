package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jordanwelch/feedmerge/internal/scd"
)

// ApplyMerge applies one run's computed diff in a single transaction: close
// the current version of every changed key at the run timestamp, then insert
// the new current versions valid from that same timestamp. If anything
// fails, the transaction rolls back and the target keeps its pre-run state.
func (s *Store) ApplyMerge(ctx context.Context, entityKey string, closeKeys []scd.Key, inserts []scd.Row, at time.Time) error {
	def, err := definition(entityKey)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	table := quoteIdentifier(def.Info.TargetTable)

	for _, chunk := range chunkKeys(closeKeys) {
		predicate, keyArgs, _ := keyPredicate(def, chunk, 2)
		query := fmt.Sprintf(
			"UPDATE %s SET valid_to = $1, is_current = FALSE WHERE is_current AND %s",
			table, predicate,
		)

		tag, err := tx.Exec(ctx, query, append([]any{at}, keyArgs...)...)
		if err != nil {
			return fmt.Errorf("close versions in %s: %w", def.Info.TargetTable, err)
		}
		if int(tag.RowsAffected()) != len(chunk) {
			return fmt.Errorf("close versions in %s: expected %d rows, closed %d",
				def.Info.TargetTable, len(chunk), tag.RowsAffected())
		}
	}

	if len(inserts) > 0 {
		columns := append(append([]string{}, def.Columns...),
			"valid_from", "valid_to", "is_current", "ingestion_timestamp")

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{def.Info.TargetTable},
			columns,
			pgx.CopyFromSlice(len(inserts), func(i int) ([]any, error) {
				values, err := def.EncodeRow(inserts[i])
				if err != nil {
					return nil, err
				}
				return append(values, at, nil, true, at), nil
			}),
		)
		if err != nil {
			return fmt.Errorf("insert versions into %s: %w", def.Info.TargetTable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge transaction: %w", err)
	}
	return nil
}
