// Package postgres implements the merge engine's Store contract on top of a
// pgx connection pool: staging replaces, current-state reads, the atomic
// close+insert merge transaction, the append-only audit log, and advisory-
// lock run serialization.
//
// The pool is owned by the caller and handed in explicitly; the store never
// opens or closes connections of its own except the one it pins while
// holding a run lock.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jordanwelch/feedmerge/internal/entity"
	"github.com/jordanwelch/feedmerge/internal/scd"
)

// keyChunkSize bounds how many natural keys go into one row-value IN list.
const keyChunkSize = 500

// DBTX is the subset of pgx operations the store needs.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store implements scd.Store against PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store over the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for collaborators (report queries, health
// checks) that share the store's connections.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// definition resolves an entity key against the registry.
func definition(entityKey string) (entity.Definition, error) {
	def, ok := entity.Get(entityKey)
	if !ok {
		return entity.Definition{}, fmt.Errorf("unknown entity: %s", entityKey)
	}
	return def, nil
}

// quoteIdentifier quotes a SQL identifier for safe interpolation.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteColumns quotes a list of identifiers.
func quoteColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdentifier(c)
	}
	return out
}

// keyPredicate builds a row-value IN predicate over the entity's key columns
// for one chunk of keys, starting at the given placeholder index. Returns the
// SQL fragment, the flattened args, and the next placeholder index.
func keyPredicate(def entity.Definition, keys []scd.Key, argIndex int) (string, []any, int) {
	cols := quoteColumns(def.KeyColumns)

	var sb strings.Builder
	sb.WriteString("(")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") IN (")

	args := make([]any, 0, len(keys)*len(cols))
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := range cols {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", argIndex)
			argIndex++
		}
		sb.WriteString(")")
		args = append(args, def.KeyValues(k)...)
	}
	sb.WriteString(")")

	return sb.String(), args, argIndex
}

// chunkKeys splits keys into slices of at most keyChunkSize.
func chunkKeys(keys []scd.Key) [][]scd.Key {
	if len(keys) == 0 {
		return nil
	}
	chunks := make([][]scd.Key, 0, (len(keys)+keyChunkSize-1)/keyChunkSize)
	for start := 0; start < len(keys); start += keyChunkSize {
		end := start + keyChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
