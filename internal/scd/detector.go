package scd

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Dedupe collapses a batch to at most one row per natural key. When the same
// key appears more than once the last row in arrival order wins; earlier rows
// are dropped and counted. Order of first appearance is preserved so staging
// writes stay deterministic.
func Dedupe(rows []Row) (kept []Row, dropped int) {
	if len(rows) == 0 {
		return nil, 0
	}

	index := make(map[Key]int, len(rows))
	kept = make([]Row, 0, len(rows))

	for _, row := range rows {
		k := row.NaturalKey()
		if at, seen := index[k]; seen {
			kept[at] = row
			dropped++
			continue
		}
		index[k] = len(kept)
		kept = append(kept, row)
	}

	return kept, dropped
}

// Classify compares each staged row against the current version for its key
// and labels it new, changed, or unchanged. Rows must already be deduplicated.
// Each key's decision is independent of the others, so the comparison fans
// out across up to parallelism goroutines; results come back in input order.
func Classify(ctx context.Context, rows []Row, current map[Key]Version, changed ChangePredicate, parallelism int) ([]Change, error) {
	changes := make([]Change, len(rows))
	if len(rows) == 0 {
		return changes, nil
	}

	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(rows) {
		parallelism = len(rows)
	}

	classify := func(row Row) Change {
		k := row.NaturalKey()
		cur, exists := current[k]
		switch {
		case !exists:
			return Change{Key: k, Kind: ChangeNew, Row: row}
		case changed(cur.Row, row):
			return Change{Key: k, Kind: ChangeChanged, Row: row}
		default:
			return Change{Key: k, Kind: ChangeUnchanged, Row: row}
		}
	}

	if parallelism == 1 {
		for i, row := range rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			changes[i] = classify(row)
		}
		return changes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(rows) + parallelism - 1) / parallelism

	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		start, end := start, end
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				changes[i] = classify(rows[i])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return changes, nil
}

// SplitChanges partitions classification results into the close-set and the
// insert-set the merge transaction applies.
func SplitChanges(changes []Change) (closeKeys []Key, inserts []Row, unchanged int) {
	for _, c := range changes {
		switch c.Kind {
		case ChangeNew:
			inserts = append(inserts, c.Row)
		case ChangeChanged:
			closeKeys = append(closeKeys, c.Key)
			inserts = append(inserts, c.Row)
		case ChangeUnchanged:
			unchanged++
		}
	}
	return closeKeys, inserts, unchanged
}
