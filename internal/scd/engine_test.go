package scd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// item is a minimal row type for exercising the engine without a database.
type item struct {
	Maker string
	Code  string
	Price float64
}

func (i item) NaturalKey() Key {
	return Key{Manufacturer: i.Maker, SKU: i.Code}
}

func itemChanged(current, incoming Row) bool {
	cur, ok := current.(item)
	if !ok {
		return true
	}
	in, ok := incoming.(item)
	if !ok {
		return true
	}
	return cur.Price != in.Price
}

// fakeStore is an in-memory Store that mimics the staging/target/audit
// behavior of the real backend.
type fakeStore struct {
	mu      sync.Mutex
	staging map[string][]Row
	target  map[Key][]Version
	audits  []AuditEntry

	stagingErr error
	currentErr error
	mergeErr   error
	auditErr   error

	lockHeld  bool
	lockCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		staging: make(map[string][]Row),
		target:  make(map[Key][]Version),
	}
}

func (f *fakeStore) ReplaceStaging(_ context.Context, entity string, rows []Row, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stagingErr != nil {
		return f.stagingErr
	}
	f.staging[entity] = append([]Row(nil), rows...)
	return nil
}

func (f *fakeStore) CurrentVersions(_ context.Context, _ string, keys []Key) (map[Key]Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	current := make(map[Key]Version)
	for _, key := range keys {
		for _, v := range f.target[key] {
			if v.IsCurrent {
				current[key] = v
			}
		}
	}
	return current, nil
}

func (f *fakeStore) ApplyMerge(_ context.Context, _ string, closeKeys []Key, inserts []Row, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return f.mergeErr
	}
	for _, key := range closeKeys {
		versions := f.target[key]
		for i := range versions {
			if versions[i].IsCurrent {
				end := at
				versions[i].ValidTo = &end
				versions[i].IsCurrent = false
			}
		}
		f.target[key] = versions
	}
	for _, row := range inserts {
		key := row.NaturalKey()
		f.target[key] = append(f.target[key], Version{
			Row:        row,
			ValidFrom:  at,
			IsCurrent:  true,
			IngestedAt: at,
		})
	}
	return nil
}

func (f *fakeStore) AppendAudit(_ context.Context, entry AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeStore) AcquireRunLock(_ context.Context, _ string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockHeld {
		return nil, errors.New("lock already held")
	}
	f.lockHeld = true
	f.lockCount++
	return func() {
		f.mu.Lock()
		f.lockHeld = false
		f.mu.Unlock()
	}, nil
}

func (f *fakeStore) currentRow(key Key) (Row, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.target[key] {
		if v.IsCurrent {
			return v.Row, true
		}
	}
	return nil, false
}

func (f *fakeStore) versionCount(key Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.target[key])
}

func testEngine(store Store) *Engine {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, map[string]ChangePredicate{"items": itemChanged}, 1, log)
}

func itemBatch(rows ...Row) Batch {
	return Batch{Entity: "items", SourceID: "test", Rows: rows}
}

func TestRun_NewKeys(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)

	result, err := engine.Run(context.Background(), itemBatch(
		item{Maker: "acme", Code: "A-1", Price: 10},
		item{Maker: "acme", Code: "A-2", Price: 20},
	))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Processed != 2 || result.Inserted != 2 || result.Updated != 0 {
		t.Errorf("result = processed %d, inserted %d, updated %d; want 2, 2, 0",
			result.Processed, result.Inserted, result.Updated)
	}
	if _, ok := store.currentRow(Key{Manufacturer: "acme", SKU: "A-1"}); !ok {
		t.Error("expected a current version for A-1")
	}
	if len(store.audits) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(store.audits))
	}
	if store.audits[0].Status != StatusSuccess {
		t.Errorf("audit status = %s, want %s", store.audits[0].Status, StatusSuccess)
	}
	if store.audits[0].Operation != OpMerge {
		t.Errorf("audit operation = %s, want %s", store.audits[0].Operation, OpMerge)
	}
}

func TestRun_ChangedAndUnchanged(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)
	ctx := context.Background()

	if _, err := engine.Run(ctx, itemBatch(
		item{Maker: "acme", Code: "A-1", Price: 10},
		item{Maker: "acme", Code: "A-2", Price: 20},
	)); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	// A-1 changes, A-2 stays, A-3 is new.
	result, err := engine.Run(ctx, itemBatch(
		item{Maker: "acme", Code: "A-1", Price: 15},
		item{Maker: "acme", Code: "A-2", Price: 20},
		item{Maker: "acme", Code: "A-3", Price: 30},
	))
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if result.Inserted != 2 {
		t.Errorf("inserted = %d, want 2", result.Inserted)
	}
	if result.Updated != 1 {
		t.Errorf("updated = %d, want 1", result.Updated)
	}
	if result.Unchanged != 1 {
		t.Errorf("unchanged = %d, want 1", result.Unchanged)
	}

	// The changed key got a second version; its old one is closed.
	keyA1 := Key{Manufacturer: "acme", SKU: "A-1"}
	if got := store.versionCount(keyA1); got != 2 {
		t.Errorf("versions for A-1 = %d, want 2", got)
	}
	row, ok := store.currentRow(keyA1)
	if !ok {
		t.Fatal("expected a current version for A-1")
	}
	if row.(item).Price != 15 {
		t.Errorf("current price for A-1 = %v, want 15", row.(item).Price)
	}

	// The unchanged key kept its single version.
	if got := store.versionCount(Key{Manufacturer: "acme", SKU: "A-2"}); got != 1 {
		t.Errorf("versions for A-2 = %d, want 1", got)
	}
}

func TestRun_Idempotent(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)
	ctx := context.Background()

	batch := itemBatch(
		item{Maker: "acme", Code: "A-1", Price: 10},
		item{Maker: "acme", Code: "A-2", Price: 20},
	)
	if _, err := engine.Run(ctx, batch); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	result, err := engine.Run(ctx, batch)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if result.Inserted != 0 || result.Updated != 0 {
		t.Errorf("second run inserted %d, updated %d; want 0, 0", result.Inserted, result.Updated)
	}
	if result.Unchanged != 2 {
		t.Errorf("second run unchanged = %d, want 2", result.Unchanged)
	}
	if len(store.audits) != 2 {
		t.Errorf("audit entries = %d, want 2 (one per run)", len(store.audits))
	}
}

func TestRun_SharedRunTimestamp(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)
	ctx := context.Background()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := engine.Run(ctx, Batch{
		Entity: "items", SourceID: "test", RunTime: at,
		Rows: []Row{item{Maker: "acme", Code: "A-1", Price: 10}},
	}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	later := at.Add(time.Hour)
	if _, err := engine.Run(ctx, Batch{
		Entity: "items", SourceID: "test", RunTime: later,
		Rows: []Row{item{Maker: "acme", Code: "A-1", Price: 99}},
	}); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	key := Key{Manufacturer: "acme", SKU: "A-1"}
	versions := store.target[key]
	if len(versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(versions))
	}

	// The old version closes exactly where the new one opens.
	if versions[0].ValidTo == nil {
		t.Fatal("superseded version should be closed")
	}
	if !versions[0].ValidTo.Equal(versions[1].ValidFrom) {
		t.Errorf("valid_to of old version (%s) != valid_from of new version (%s)",
			versions[0].ValidTo, versions[1].ValidFrom)
	}
	if !versions[1].ValidFrom.Equal(later) {
		t.Errorf("valid_from = %s, want %s", versions[1].ValidFrom, later)
	}
	if versions[0].IsCurrent || !versions[1].IsCurrent {
		t.Error("only the newest version should be current")
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)

	result, err := engine.Run(context.Background(), itemBatch())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Processed != 0 || result.Inserted != 0 || result.Updated != 0 {
		t.Errorf("empty batch result = %+v, want all-zero counts", result)
	}

	// The staging replace still happened and the run is still audited.
	if got := len(store.staging["items"]); got != 0 {
		t.Errorf("staging rows = %d, want 0", got)
	}
	if len(store.audits) != 1 || store.audits[0].Status != StatusSuccess {
		t.Errorf("audits = %+v, want one SUCCESS entry", store.audits)
	}
}

func TestRun_DuplicateKeysLastWins(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)

	result, err := engine.Run(context.Background(), itemBatch(
		item{Maker: "acme", Code: "A-1", Price: 10},
		item{Maker: "acme", Code: "A-1", Price: 30},
	))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Processed != 1 || result.Deduped != 1 {
		t.Errorf("processed = %d, deduped = %d; want 1, 1", result.Processed, result.Deduped)
	}

	row, ok := store.currentRow(Key{Manufacturer: "acme", SKU: "A-1"})
	if !ok {
		t.Fatal("expected a current version for A-1")
	}
	if row.(item).Price != 30 {
		t.Errorf("current price = %v, want the last occurrence's 30", row.(item).Price)
	}
}

func TestRun_UnknownEntity(t *testing.T) {
	engine := testEngine(newFakeStore())

	_, err := engine.Run(context.Background(), Batch{Entity: "widgets"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Run() error = %v, want *ValidationError", err)
	}
}

func TestRun_StagingFailureAudited(t *testing.T) {
	store := newFakeStore()
	store.stagingErr = errors.New("disk full")
	engine := testEngine(store)

	_, err := engine.Run(context.Background(), itemBatch(item{Maker: "acme", Code: "A-1", Price: 10}))
	var serr *StagingError
	if !errors.As(err, &serr) {
		t.Fatalf("Run() error = %v, want *StagingError", err)
	}

	if len(store.audits) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(store.audits))
	}
	if store.audits[0].Status != StatusError {
		t.Errorf("audit status = %s, want %s", store.audits[0].Status, StatusError)
	}
	if store.audits[0].ErrorMessage == "" {
		t.Error("audit entry should carry the failure message")
	}
}

func TestRun_MergeFailureAudited(t *testing.T) {
	store := newFakeStore()
	store.mergeErr = errors.New("deadlock detected")
	engine := testEngine(store)

	_, err := engine.Run(context.Background(), itemBatch(item{Maker: "acme", Code: "A-1", Price: 10}))
	var merr *MergeError
	if !errors.As(err, &merr) {
		t.Fatalf("Run() error = %v, want *MergeError", err)
	}
	if len(store.audits) != 1 || store.audits[0].Status != StatusError {
		t.Errorf("audits = %+v, want one ERROR entry", store.audits)
	}

	// Nothing was applied.
	if store.versionCount(Key{Manufacturer: "acme", SKU: "A-1"}) != 0 {
		t.Error("failed merge must not leave versions behind")
	}
}

func TestRun_AuditFailureSwallowed(t *testing.T) {
	store := newFakeStore()
	store.auditErr = errors.New("audit table missing")
	engine := testEngine(store)

	result, err := engine.Run(context.Background(), itemBatch(item{Maker: "acme", Code: "A-1", Price: 10}))
	if err != nil {
		t.Fatalf("Run() error = %v, audit failures must not fail the run", err)
	}
	if result.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", result.Inserted)
	}
}

func TestRun_LockReleased(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)
	ctx := context.Background()

	if _, err := engine.Run(ctx, itemBatch(item{Maker: "acme", Code: "A-1", Price: 10})); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	// A second run would fail to acquire if the first never released.
	if _, err := engine.Run(ctx, itemBatch(item{Maker: "acme", Code: "A-1", Price: 10})); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if store.lockCount != 2 {
		t.Errorf("lock acquisitions = %d, want 2", store.lockCount)
	}
}
