package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jordanwelch/feedmerge/internal/scd"
)

// ReplaceStaging swaps the staging table's content for this batch in one
// transaction: truncate, then bulk-load via COPY. Readers either see the
// previous working set or the new one, never a partial write.
func (s *Store) ReplaceStaging(ctx context.Context, entityKey string, rows []scd.Row, ingestedAt time.Time) error {
	def, err := definition(entityKey)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin staging transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	table := quoteIdentifier(def.Info.StagingTable)
	if _, err := tx.Exec(ctx, "TRUNCATE "+table); err != nil {
		return fmt.Errorf("truncate %s: %w", def.Info.StagingTable, err)
	}

	if len(rows) > 0 {
		columns := append(append([]string{}, def.Columns...), "ingestion_timestamp")

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{def.Info.StagingTable},
			columns,
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				values, err := def.EncodeRow(rows[i])
				if err != nil {
					return nil, err
				}
				return append(values, ingestedAt), nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy into %s: %w", def.Info.StagingTable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit staging transaction: %w", err)
	}
	return nil
}
