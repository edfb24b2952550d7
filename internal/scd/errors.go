package scd

import "fmt"

// The engine signals failures through typed errors so callers can tell a
// rejected batch apart from a staging or merge failure. Audit write failures
// never surface here; they are logged and swallowed inside the engine.

// ValidationError means the batch as a whole was rejected before staging.
type ValidationError struct {
	Entity string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid batch for %s: %s", e.Entity, e.Reason)
}

// StagingError means the staging replace did not complete. No merge was
// attempted; the target table is untouched.
type StagingError struct {
	Entity string
	Err    error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging replace failed for %s: %v", e.Entity, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// MergeError means the close/insert transaction could not be applied. The
// store guarantees the target remains in its pre-run state.
type MergeError struct {
	Entity string
	Err    error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge failed for %s: %v", e.Entity, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// LockError means the per-entity run lock could not be acquired, so the run
// never started. Nothing was staged or merged.
type LockError struct {
	Entity string
	Err    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("run lock for %s: %v", e.Entity, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }
