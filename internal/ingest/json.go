package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jordanwelch/feedmerge/internal/entity"
	"github.com/jordanwelch/feedmerge/internal/scd"
)

// rawProduct mirrors the catalog feed's JSON shape. Details is kept raw and
// re-marshaled into a canonical string so equal objects always compare equal
// in the change predicate.
type rawProduct struct {
	Manufacturer *string         `json:"Manufacturer"`
	SKU          *string         `json:"SKU"`
	Category     *string         `json:"Category"`
	Title        *string         `json:"Title"`
	Details      json.RawMessage `json:"Details"`
	UpdatedOnUTC *string         `json:"UpdatedOnUTC"`
}

// ProductJSON parses a catalog feed (a JSON array of product objects) into a
// batch for the products entity. A document that is not valid JSON rejects
// the whole batch; elements missing any required field are excluded and
// reported in the returned Load.
func ProductJSON(r io.Reader, sourceID string, runTime time.Time) (*Load, error) {
	var raw []rawProduct
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, &scd.ValidationError{Entity: "products", Reason: fmt.Sprintf("decoding feed: %v", err)}
	}

	load := &Load{
		Batch: scd.Batch{
			Entity:   "products",
			SourceID: sourceID,
			RunTime:  runTime,
		},
	}

	for i, p := range raw {
		row, reason := parseProduct(p)
		if reason != "" {
			load.fail(i+1, reason)
			continue
		}
		load.Batch.Rows = append(load.Batch.Rows, row)
	}

	return load, nil
}

func parseProduct(p rawProduct) (scd.Row, string) {
	manufacturer, reason := requiredString(p.Manufacturer, "Manufacturer")
	if reason != "" {
		return nil, reason
	}
	sku, reason := requiredString(p.SKU, "SKU")
	if reason != "" {
		return nil, reason
	}
	category, reason := requiredString(p.Category, "Category")
	if reason != "" {
		return nil, reason
	}
	title, reason := requiredString(p.Title, "Title")
	if reason != "" {
		return nil, reason
	}
	if len(p.Details) == 0 {
		return nil, "missing Details"
	}
	if p.UpdatedOnUTC == nil || strings.TrimSpace(*p.UpdatedOnUTC) == "" {
		return nil, "missing UpdatedOnUTC"
	}

	updatedOn, err := parseUTC(*p.UpdatedOnUTC)
	if err != nil {
		return nil, fmt.Sprintf("invalid UpdatedOnUTC %q", *p.UpdatedOnUTC)
	}

	details, err := canonicalJSON(p.Details)
	if err != nil {
		return nil, fmt.Sprintf("invalid Details: %v", err)
	}

	return entity.ProductRow{
		Manufacturer: entity.NormalizeText(manufacturer),
		SKU:          sku,
		Category:     entity.NormalizeText(category),
		Title:        title,
		Details:      details,
		UpdatedOn:    updatedOn,
	}, ""
}

func requiredString(v *string, name string) (string, string) {
	if v == nil {
		return "", "missing " + name
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return "", "empty " + name
	}
	return s, ""
}

// parseUTC accepts RFC3339 timestamps, with or without the trailing Z the
// feed usually carries.
func parseUTC(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// canonicalJSON round-trips a raw JSON value through a map so that key order
// differences between exports do not register as changes.
func canonicalJSON(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
