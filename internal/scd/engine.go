package scd

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// OpMerge is the operation label written to the audit log for a merge run.
const OpMerge = "MERGE"

// Engine runs the stage -> detect -> close+insert -> audit pipeline for one
// batch at a time. It is safe for concurrent use; the store's run lock
// serializes runs that target the same entity type.
type Engine struct {
	store       Store
	changedFns  map[string]ChangePredicate
	parallelism int
	log         *slog.Logger
}

// NewEngine creates an engine over the given store. predicates maps an entity
// registry key to its change predicate; parallelism bounds the change
// detector's fan-out (<= 0 means one goroutine per CPU).
func NewEngine(store Store, predicates map[string]ChangePredicate, parallelism int, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:       store,
		changedFns:  predicates,
		parallelism: parallelism,
		log:         log,
	}
}

// Run executes one merge run for the batch and returns its result.
//
// The run timestamp is fixed once: every version closed in this run gets
// valid_to = T and every version inserted gets valid_from = T, so a key that
// changes hands has contiguous, non-overlapping validity intervals. On any
// failure after the lock is held the engine writes a best-effort ERROR audit
// entry and returns a typed error; the target table is never left with a
// partially applied diff.
func (e *Engine) Run(ctx context.Context, batch Batch) (*MergeResult, error) {
	changed, ok := e.changedFns[batch.Entity]
	if !ok {
		return nil, &ValidationError{Entity: batch.Entity, Reason: "no change predicate registered"}
	}

	runID := uuid.New().String()
	startedAt := time.Now().UTC()

	// Single run-wide timestamp shared by the closer and the inserter.
	runTime := batch.RunTime
	if runTime.IsZero() {
		runTime = startedAt
	}
	runTime = runTime.UTC()

	log := e.log.With("run_id", runID, "entity", batch.Entity, "source", batch.SourceID)

	release, err := e.store.AcquireRunLock(ctx, batch.Entity)
	if err != nil {
		return nil, &LockError{Entity: batch.Entity, Err: err}
	}
	defer release()

	rows, deduped := Dedupe(batch.Rows)
	if deduped > 0 {
		log.Warn("duplicate keys in batch, keeping last occurrence", "dropped", deduped)
	}

	result := &MergeResult{
		RunID:       runID,
		Entity:      batch.Entity,
		SourceID:    batch.SourceID,
		Processed:   len(rows),
		Deduped:     deduped,
		Skipped:     batch.Skipped,
		KeysChanged: make(map[Key]struct{}),
		StartedAt:   startedAt,
	}

	log.Info("run started", "rows", len(rows), "skipped", batch.Skipped)

	// Stage the snapshot. The replace is non-additive: leftovers from a
	// previous run disappear even when this batch is empty.
	if err := e.store.ReplaceStaging(ctx, batch.Entity, rows, runTime); err != nil {
		serr := &StagingError{Entity: batch.Entity, Err: err}
		e.auditRun(ctx, result, startedAt, StatusError, serr.Error())
		return nil, serr
	}

	if len(rows) > 0 {
		keys := make([]Key, len(rows))
		for i, row := range rows {
			keys[i] = row.NaturalKey()
		}

		current, err := e.store.CurrentVersions(ctx, batch.Entity, keys)
		if err != nil {
			merr := &MergeError{Entity: batch.Entity, Err: err}
			e.auditRun(ctx, result, startedAt, StatusError, merr.Error())
			return nil, merr
		}

		changes, err := Classify(ctx, rows, current, changed, e.parallelism)
		if err != nil {
			merr := &MergeError{Entity: batch.Entity, Err: err}
			e.auditRun(ctx, result, startedAt, StatusError, merr.Error())
			return nil, merr
		}

		closeKeys, inserts, unchanged := SplitChanges(changes)
		result.Unchanged = unchanged

		if len(inserts) > 0 {
			if err := e.store.ApplyMerge(ctx, batch.Entity, closeKeys, inserts, runTime); err != nil {
				merr := &MergeError{Entity: batch.Entity, Err: err}
				e.auditRun(ctx, result, startedAt, StatusError, merr.Error())
				return nil, merr
			}
		}

		result.Inserted = len(inserts)
		result.Updated = len(closeKeys)
		for _, k := range closeKeys {
			result.KeysChanged[k] = struct{}{}
		}
	}

	e.auditRun(ctx, result, startedAt, StatusSuccess, "")

	log.Info("run finished",
		"processed", result.Processed,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
	)

	return result, nil
}

// auditRun appends the run's audit entry. Audit logging is best-effort: a
// failed write is logged and swallowed so it can never mask the pipeline
// outcome.
func (e *Engine) auditRun(ctx context.Context, result *MergeResult, startedAt time.Time, status RunStatus, errMsg string) {
	result.FinishedAt = time.Now().UTC()

	entry := AuditEntry{
		RunID:            result.RunID,
		TableName:        result.Entity,
		Operation:        OpMerge,
		RecordsProcessed: result.Processed,
		RecordsInserted:  result.Inserted,
		RecordsUpdated:   result.Updated,
		StartTime:        startedAt,
		EndTime:          result.FinishedAt,
		Status:           status,
		ErrorMessage:     errMsg,
	}

	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.log.Error("audit write failed",
			"run_id", result.RunID,
			"entity", result.Entity,
			"status", status,
			"error", err,
		)
	}
}
