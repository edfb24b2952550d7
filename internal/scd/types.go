// Package scd implements the incremental merge engine for slowly-changing-
// dimension (Type 2) tables. Each run stages one snapshot batch, classifies
// every staged key as new, changed, or unchanged against the current version,
// closes superseded versions and inserts replacements at a single run-wide
// timestamp, and appends one audit entry describing the outcome.
//
// The engine has no knowledge of any concrete database; it talks to its
// backing store through the Store interface.
package scd

import (
	"context"
	"time"
)

// Key is the natural key identifying one entity's version history.
// Distributor is empty for entities keyed on (manufacturer, sku) only.
type Key struct {
	Manufacturer string
	SKU          string
	Distributor  string
}

// Row is one snapshot record for an entity type. Concrete row types live in
// the entity package; the engine only needs the natural key.
type Row interface {
	NaturalKey() Key
}

// Version is a historized row in a target table.
type Version struct {
	Row        Row
	ValidFrom  time.Time
	ValidTo    *time.Time
	IsCurrent  bool
	IngestedAt time.Time
}

// Batch is the parsed, validated input for one run of one entity type.
type Batch struct {
	Entity   string // registry key, e.g. "prices" or "products"
	SourceID string // where the rows came from, e.g. a file name or distributor
	Rows     []Row  // arrival order is preserved; later rows win on duplicate keys
	Skipped  int    // rows the parser excluded before the batch reached the engine
	RunTime  time.Time
}

// ChangeKind classifies one staged key against the current version.
type ChangeKind int

const (
	ChangeNew ChangeKind = iota
	ChangeChanged
	ChangeUnchanged
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "new"
	case ChangeChanged:
		return "changed"
	case ChangeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Change is the classification result for one key.
type Change struct {
	Key  Key
	Kind ChangeKind
	Row  Row // the staged row that won for this key
}

// RunStatus is the outcome recorded in the audit log.
type RunStatus string

const (
	StatusSuccess RunStatus = "SUCCESS"
	StatusError   RunStatus = "ERROR"
)

// MergeResult summarizes one completed run.
type MergeResult struct {
	RunID       string
	Entity      string
	SourceID    string
	Processed   int // rows staged after deduplication
	Inserted    int // new current versions written (new + changed keys)
	Updated     int // prior versions closed (changed keys)
	Unchanged   int
	Deduped     int // rows dropped by last-wins duplicate-key selection
	Skipped     int // carried over from the parser
	KeysChanged map[Key]struct{}
	StartedAt   time.Time
	FinishedAt  time.Time
}

// AuditEntry is one append-only record of a run attempt.
type AuditEntry struct {
	RunID            string
	TableName        string
	Operation        string
	RecordsProcessed int
	RecordsInserted  int
	RecordsUpdated   int
	StartTime        time.Time
	EndTime          time.Time
	Status           RunStatus
	ErrorMessage     string
}

// ChangePredicate reports whether the incoming row differs from the current
// version in a way that requires a new version. Entity definitions supply it.
type ChangePredicate func(current, incoming Row) bool

// Stager replaces the staging working set for one entity type. The replace
// must be atomic: either the whole batch becomes visible or none of it.
type Stager interface {
	ReplaceStaging(ctx context.Context, entity string, rows []Row, ingestedAt time.Time) error
}

// CurrentStateReader returns the current version for each requested key, if
// one exists. Keys with no current version are absent from the result.
type CurrentStateReader interface {
	CurrentVersions(ctx context.Context, entity string, keys []Key) (map[Key]Version, error)
}

// MergeApplier applies a computed diff as one indivisible operation: every
// key in closeKeys has its current version closed at the run timestamp, and
// every row in inserts becomes a new current version valid from that same
// timestamp. Readers must never observe a partially applied diff.
type MergeApplier interface {
	ApplyMerge(ctx context.Context, entity string, closeKeys []Key, inserts []Row, at time.Time) error
}

// AuditSink appends one audit entry. Implementations must not retain entries
// in memory only; an appended entry is durable.
type AuditSink interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// RunLocker serializes runs per entity type. Acquire blocks until the lock
// is held or ctx is done; the returned release function must always be
// called. Two runs holding the lock for the same entity at once would race
// the staging replace against the merge.
type RunLocker interface {
	AcquireRunLock(ctx context.Context, entity string) (release func(), err error)
}

// Store is the full backing-store contract the engine needs for a run.
type Store interface {
	Stager
	CurrentStateReader
	MergeApplier
	AuditSink
	RunLocker
}
