package entity

import (
	"fmt"
	"time"

	"github.com/jordanwelch/feedmerge/internal/scd"
)

// PriceRow is one distributor price snapshot for a SKU.
type PriceRow struct {
	Manufacturer string
	SKU          string
	Price        float64
	Quantity     int32
	Distributor  string
	UpdatedOn    time.Time
}

// NaturalKey implements scd.Row. Prices are versioned per
// (manufacturer, sku, distributor).
func (r PriceRow) NaturalKey() scd.Key {
	return scd.Key{
		Manufacturer: r.Manufacturer,
		SKU:          r.SKU,
		Distributor:  r.Distributor,
	}
}

// priceChanged is the price change predicate: a new version is required when
// price or quantity differ from the current version. updated_on alone never
// opens a new version; distributors re-stamp it on every export.
func priceChanged(current, incoming scd.Row) bool {
	cur, ok := current.(PriceRow)
	if !ok {
		return true
	}
	in, ok := incoming.(PriceRow)
	if !ok {
		return true
	}
	return cur.Price != in.Price || cur.Quantity != in.Quantity
}

func encodePriceRow(row scd.Row) ([]any, error) {
	r, ok := row.(PriceRow)
	if !ok {
		return nil, fmt.Errorf("expected PriceRow, got %T", row)
	}
	return []any{r.Manufacturer, r.SKU, r.Price, r.Quantity, r.Distributor, r.UpdatedOn}, nil
}

func decodePriceRow(values []any) (scd.Row, error) {
	if len(values) != 6 {
		return nil, fmt.Errorf("price row: expected 6 values, got %d", len(values))
	}
	var r PriceRow
	var err error
	if r.Manufacturer, err = asString(values[0]); err != nil {
		return nil, fmt.Errorf("price row manufacturer: %w", err)
	}
	if r.SKU, err = asString(values[1]); err != nil {
		return nil, fmt.Errorf("price row sku: %w", err)
	}
	if r.Price, err = asFloat64(values[2]); err != nil {
		return nil, fmt.Errorf("price row price: %w", err)
	}
	if r.Quantity, err = asInt32(values[3]); err != nil {
		return nil, fmt.Errorf("price row quantity: %w", err)
	}
	if r.Distributor, err = asString(values[4]); err != nil {
		return nil, fmt.Errorf("price row distributor: %w", err)
	}
	if r.UpdatedOn, err = asTime(values[5]); err != nil {
		return nil, fmt.Errorf("price row updated_on: %w", err)
	}
	return r, nil
}

func init() {
	Register(Definition{
		Info: Info{
			Key:          "prices",
			Label:        "Distributor Prices",
			StagingTable: "stg_prices",
			TargetTable:  "prices",
		},
		FieldSpecs: []FieldSpec{
			{Name: "Manufacturer", Column: "manufacturer", Type: FieldText, Required: true, Normalizer: NormalizeText},
			{Name: "SKU", Column: "sku", Type: FieldText, Required: true},
			{Name: "Price", Column: "price", Type: FieldNumeric, Required: true},
			{Name: "Quantity", Column: "quantity", Type: FieldInteger, Required: true},
		},
		Columns:     []string{"manufacturer", "sku", "price", "quantity", "distributor", "updated_on"},
		ColumnTypes: []string{"TEXT", "TEXT", "DOUBLE PRECISION", "INTEGER", "TEXT", "TIMESTAMPTZ"},
		KeyColumns:  []string{"manufacturer", "sku", "distributor"},
		Changed:    priceChanged,
		EncodeRow:  encodePriceRow,
		DecodeRow:  decodePriceRow,
		KeyValues: func(k scd.Key) []any {
			return []any{k.Manufacturer, k.SKU, k.Distributor}
		},
	})
}
