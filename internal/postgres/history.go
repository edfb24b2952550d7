package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jordanwelch/feedmerge/internal/scd"
)

// VersionHistory returns every version recorded for one natural key, oldest
// first. An unknown key yields an empty slice, not an error.
func (s *Store) VersionHistory(ctx context.Context, entityKey string, key scd.Key) ([]scd.Version, error) {
	def, err := definition(entityKey)
	if err != nil {
		return nil, err
	}

	predicate, args, _ := keyPredicate(def, []scd.Key{key}, 1)
	query := fmt.Sprintf(
		"SELECT %s, valid_from, valid_to, is_current, ingestion_timestamp FROM %s WHERE %s ORDER BY valid_from",
		strings.Join(quoteColumns(def.Columns), ", "),
		quoteIdentifier(def.Info.TargetTable),
		predicate,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history of %s: %w", def.Info.Key, err)
	}
	defer rows.Close()

	versions := make([]scd.Version, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan history of %s: %w", def.Info.Key, err)
		}
		version, err := versionFromValues(def, values)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history of %s: %w", def.Info.Key, err)
	}

	return versions, nil
}

// CurrentRowCount returns how many current versions the entity's target
// table holds.
func (s *Store) CurrentRowCount(ctx context.Context, entityKey string) (int64, error) {
	def, err := definition(entityKey)
	if err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE is_current", quoteIdentifier(def.Info.TargetTable))
	err = s.pool.QueryRow(ctx, query).Scan(&count)
	return count, err
}
