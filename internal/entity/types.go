// Package entity defines the snapshot entity types the pipeline knows how to
// historize, one Definition per target table. Definitions are registered via
// init() and looked up by key; importing this package for side effects wires
// in every entity.
package entity

import (
	"fmt"

	"github.com/jordanwelch/feedmerge/internal/scd"
)

// FieldType is the expected data type for a source field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumeric
	FieldInteger
	FieldTimestamp
)

// FieldSpec describes one source column: how it is named in the feed, how it
// is validated, and how raw values are cleaned before parsing.
type FieldSpec struct {
	Name       string              // source column / JSON field name
	Column     string              // database column name
	Type       FieldType           // expected data type
	Required   bool                // row is skipped when missing or empty
	Normalizer func(string) string // optional cleanup applied before parsing
}

// Info carries naming for one entity type.
type Info struct {
	Key          string // registry key and audit table_name, e.g. "prices"
	Label        string // display name
	StagingTable string
	TargetTable  string
}

// EncodeRowFunc converts a row into column values matching Definition.Columns.
type EncodeRowFunc func(row scd.Row) ([]any, error)

// DecodeRowFunc rebuilds a row from column values in Definition.Columns order.
type DecodeRowFunc func(values []any) (scd.Row, error)

// Definition contains everything the pipeline needs to stage, compare, and
// version one entity type.
type Definition struct {
	Info       Info
	FieldSpecs []FieldSpec

	// Columns lists the source-schema columns in storage order; ColumnTypes
	// holds the matching SQL types for schema provisioning. KeyColumns is the
	// subset forming the natural key and matches the order of KeyValues
	// output.
	Columns     []string
	ColumnTypes []string
	KeyColumns  []string

	// Changed reports whether incoming differs from current enough to require
	// a new version.
	Changed scd.ChangePredicate

	EncodeRow EncodeRowFunc
	DecodeRow DecodeRowFunc

	// KeyValues returns the natural-key values aligned with KeyColumns.
	KeyValues func(k scd.Key) []any
}

// Validate checks a definition for internal consistency at registration time.
func (d Definition) Validate() error {
	if d.Info.Key == "" {
		return fmt.Errorf("entity definition missing key")
	}
	if d.Info.StagingTable == "" || d.Info.TargetTable == "" {
		return fmt.Errorf("entity %s: missing table names", d.Info.Key)
	}
	if len(d.Columns) == 0 {
		return fmt.Errorf("entity %s: no columns", d.Info.Key)
	}
	if len(d.ColumnTypes) != len(d.Columns) {
		return fmt.Errorf("entity %s: %d column types for %d columns", d.Info.Key, len(d.ColumnTypes), len(d.Columns))
	}
	if len(d.KeyColumns) == 0 {
		return fmt.Errorf("entity %s: no key columns", d.Info.Key)
	}
	colSet := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		colSet[c] = true
	}
	for _, kc := range d.KeyColumns {
		if !colSet[kc] {
			return fmt.Errorf("entity %s: key column %q not in columns", d.Info.Key, kc)
		}
	}
	if d.Changed == nil || d.EncodeRow == nil || d.DecodeRow == nil || d.KeyValues == nil {
		return fmt.Errorf("entity %s: incomplete definition", d.Info.Key)
	}
	return nil
}
