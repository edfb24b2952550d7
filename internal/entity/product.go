package entity

import (
	"fmt"
	"time"

	"github.com/jordanwelch/feedmerge/internal/scd"
)

// ProductRow is one catalog product snapshot. Details holds the product's
// semi-structured attributes serialized as canonical JSON.
type ProductRow struct {
	Manufacturer string
	SKU          string
	Category     string
	Title        string
	Details      string
	UpdatedOn    time.Time
}

// NaturalKey implements scd.Row. Products are versioned per
// (manufacturer, sku).
func (r ProductRow) NaturalKey() scd.Key {
	return scd.Key{
		Manufacturer: r.Manufacturer,
		SKU:          r.SKU,
	}
}

// productChanged is the product change predicate: a new version is required
// when the incoming snapshot carries a newer updated_on, or when details,
// category, or title differ from the current version.
func productChanged(current, incoming scd.Row) bool {
	cur, ok := current.(ProductRow)
	if !ok {
		return true
	}
	in, ok := incoming.(ProductRow)
	if !ok {
		return true
	}
	return in.UpdatedOn.After(cur.UpdatedOn) ||
		cur.Details != in.Details ||
		cur.Category != in.Category ||
		cur.Title != in.Title
}

func encodeProductRow(row scd.Row) ([]any, error) {
	r, ok := row.(ProductRow)
	if !ok {
		return nil, fmt.Errorf("expected ProductRow, got %T", row)
	}
	return []any{r.Manufacturer, r.SKU, r.Category, r.Title, r.Details, r.UpdatedOn}, nil
}

func decodeProductRow(values []any) (scd.Row, error) {
	if len(values) != 6 {
		return nil, fmt.Errorf("product row: expected 6 values, got %d", len(values))
	}
	var r ProductRow
	var err error
	if r.Manufacturer, err = asString(values[0]); err != nil {
		return nil, fmt.Errorf("product row manufacturer: %w", err)
	}
	if r.SKU, err = asString(values[1]); err != nil {
		return nil, fmt.Errorf("product row sku: %w", err)
	}
	if r.Category, err = asString(values[2]); err != nil {
		return nil, fmt.Errorf("product row category: %w", err)
	}
	if r.Title, err = asString(values[3]); err != nil {
		return nil, fmt.Errorf("product row title: %w", err)
	}
	if r.Details, err = asString(values[4]); err != nil {
		return nil, fmt.Errorf("product row details: %w", err)
	}
	if r.UpdatedOn, err = asTime(values[5]); err != nil {
		return nil, fmt.Errorf("product row updated_on: %w", err)
	}
	return r, nil
}

func init() {
	Register(Definition{
		Info: Info{
			Key:          "products",
			Label:        "Catalog Products",
			StagingTable: "stg_products",
			TargetTable:  "products",
		},
		FieldSpecs: []FieldSpec{
			{Name: "Manufacturer", Column: "manufacturer", Type: FieldText, Required: true, Normalizer: NormalizeText},
			{Name: "SKU", Column: "sku", Type: FieldText, Required: true},
			{Name: "Category", Column: "category", Type: FieldText, Required: true, Normalizer: NormalizeText},
			{Name: "Title", Column: "title", Type: FieldText, Required: true},
			{Name: "Details", Column: "details", Type: FieldText, Required: true},
			{Name: "UpdatedOnUTC", Column: "updated_on", Type: FieldTimestamp, Required: true},
		},
		Columns:     []string{"manufacturer", "sku", "category", "title", "details", "updated_on"},
		ColumnTypes: []string{"TEXT", "TEXT", "TEXT", "TEXT", "TEXT", "TIMESTAMPTZ"},
		KeyColumns:  []string{"manufacturer", "sku"},
		Changed:    productChanged,
		EncodeRow:  encodeProductRow,
		DecodeRow:  decodeProductRow,
		KeyValues: func(k scd.Key) []any {
			return []any{k.Manufacturer, k.SKU}
		},
	})
}
