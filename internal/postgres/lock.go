package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
)

// lockNamespace separates this pipeline's advisory locks from other users of
// the same database.
const lockNamespace = int32(0x5cd2)

// AcquireRunLock serializes merge runs per entity type with a session-level
// advisory lock. The lock lives on a pinned connection; the returned release
// unlocks and returns the connection to the pool. Blocks until the lock is
// granted or ctx is done.
func (s *Store) AcquireRunLock(ctx context.Context, entityKey string) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for run lock: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1, $2)", lockNamespace, lockID(entityKey)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock for %s: %w", entityKey, err)
	}

	release := func() {
		// Unlock on a background context: the run's context may already be
		// cancelled, and an unreleased session lock would block the next run
		// until the connection dies.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1, $2)", lockNamespace, lockID(entityKey))
		conn.Release()
	}

	return release, nil
}

// lockID maps an entity key onto the advisory lock key space.
func lockID(entityKey string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entityKey))
	return int32(h.Sum32())
}
