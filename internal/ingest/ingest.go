// Package ingest parses raw snapshot feeds into batches the merge engine can
// run. Distributor price lists arrive as CSV, the product catalog as JSON.
//
// Validation is two-tiered: a malformed document or header rejects the whole
// batch (scd.ValidationError), while individual bad rows are excluded and
// reported so the remaining rows still merge.
package ingest

import (
	"fmt"

	"github.com/jordanwelch/feedmerge/internal/scd"
)

// RowError describes one excluded source row.
type RowError struct {
	Line   int // 1-based line (CSV) or element index (JSON)
	Reason string
}

func (e RowError) String() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Load is a parsed batch plus the rows that were excluded on the way in.
// len(Failures) always equals Batch.Skipped.
type Load struct {
	Batch    scd.Batch
	Failures []RowError
}
