package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jordanwelch/feedmerge/internal/entity"
	"github.com/jordanwelch/feedmerge/internal/scd"
)

// CurrentVersions returns the current version for each requested key, keyed
// by natural key. Keys with no current row are simply absent. Large key sets
// are read in chunks to keep statements bounded.
func (s *Store) CurrentVersions(ctx context.Context, entityKey string, keys []scd.Key) (map[scd.Key]scd.Version, error) {
	def, err := definition(entityKey)
	if err != nil {
		return nil, err
	}

	result := make(map[scd.Key]scd.Version, len(keys))
	selectCols := strings.Join(quoteColumns(def.Columns), ", ")
	table := quoteIdentifier(def.Info.TargetTable)

	for _, chunk := range chunkKeys(keys) {
		predicate, args, _ := keyPredicate(def, chunk, 1)
		query := fmt.Sprintf(
			"SELECT %s, valid_from, valid_to, is_current, ingestion_timestamp FROM %s WHERE is_current AND %s",
			selectCols, table, predicate,
		)

		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query current versions of %s: %w", def.Info.Key, err)
		}

		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan current version of %s: %w", def.Info.Key, err)
			}

			version, err := versionFromValues(def, values)
			if err != nil {
				rows.Close()
				return nil, err
			}
			result[version.Row.NaturalKey()] = version
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("read current versions of %s: %w", def.Info.Key, err)
		}
	}

	return result, nil
}

// versionFromValues decodes one target-table row: the entity columns followed
// by valid_from, valid_to, is_current, ingestion_timestamp.
func versionFromValues(def entity.Definition, values []any) (scd.Version, error) {
	want := len(def.Columns) + 4
	if len(values) != want {
		return scd.Version{}, fmt.Errorf("version row of %s: expected %d values, got %d", def.Info.Key, want, len(values))
	}

	row, err := def.DecodeRow(values[:len(def.Columns)])
	if err != nil {
		return scd.Version{}, fmt.Errorf("decode %s version: %w", def.Info.Key, err)
	}

	version := scd.Version{Row: row}
	tail := values[len(def.Columns):]

	validFrom, ok := tail[0].(time.Time)
	if !ok {
		return scd.Version{}, fmt.Errorf("version row of %s: valid_from is %T", def.Info.Key, tail[0])
	}
	version.ValidFrom = validFrom.UTC()

	if tail[1] != nil {
		validTo, ok := tail[1].(time.Time)
		if !ok {
			return scd.Version{}, fmt.Errorf("version row of %s: valid_to is %T", def.Info.Key, tail[1])
		}
		utc := validTo.UTC()
		version.ValidTo = &utc
	}

	isCurrent, ok := tail[2].(bool)
	if !ok {
		return scd.Version{}, fmt.Errorf("version row of %s: is_current is %T", def.Info.Key, tail[2])
	}
	version.IsCurrent = isCurrent

	ingested, ok := tail[3].(time.Time)
	if !ok {
		return scd.Version{}, fmt.Errorf("version row of %s: ingestion_timestamp is %T", def.Info.Key, tail[3])
	}
	version.IngestedAt = ingested.UTC()

	return version, nil
}
