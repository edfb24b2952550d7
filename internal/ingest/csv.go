package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jordanwelch/feedmerge/internal/entity"
	"github.com/jordanwelch/feedmerge/internal/scd"
)

// Price CSVs carry one row per (manufacturer, sku); the distributor is not a
// column but an attribute of the file, stamped onto every row, as is the
// ingestion-time updated_on.

// priceColumns are the headers a distributor price CSV must carry.
var priceColumns = []string{"Manufacturer", "SKU", "Price", "Quantity"}

// PriceCSV parses a distributor price CSV into a batch for the prices entity.
// The header row is required and matched case-insensitively; a missing column
// rejects the whole file. Rows with unparseable or empty required fields are
// excluded and reported in the returned Load.
func PriceCSV(r io.Reader, distributor string, runTime time.Time) (*Load, error) {
	if strings.TrimSpace(distributor) == "" {
		return nil, &scd.ValidationError{Entity: "prices", Reason: "distributor must not be empty"}
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // row width is validated per row

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &scd.ValidationError{Entity: "prices", Reason: "file is empty"}
	}
	if err != nil {
		return nil, &scd.ValidationError{Entity: "prices", Reason: fmt.Sprintf("reading header: %v", err)}
	}

	idx, err := headerIndex(header, priceColumns)
	if err != nil {
		return nil, &scd.ValidationError{Entity: "prices", Reason: err.Error()}
	}

	load := &Load{
		Batch: scd.Batch{
			Entity:   "prices",
			SourceID: distributor,
			RunTime:  runTime,
		},
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			load.fail(line, fmt.Sprintf("malformed csv row: %v", err))
			continue
		}
		if blankRecord(record) {
			continue
		}

		row, reason := parsePriceRecord(record, idx, distributor, runTime)
		if reason != "" {
			load.fail(line, reason)
			continue
		}
		load.Batch.Rows = append(load.Batch.Rows, row)
	}

	return load, nil
}

func parsePriceRecord(record []string, idx map[string]int, distributor string, runTime time.Time) (scd.Row, string) {
	get := func(name string) (string, bool) {
		i := idx[strings.ToLower(name)]
		if i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}

	manufacturer, ok := get("Manufacturer")
	if !ok || manufacturer == "" {
		return nil, "missing manufacturer"
	}
	sku, ok := get("SKU")
	if !ok || sku == "" {
		return nil, "missing sku"
	}
	rawPrice, ok := get("Price")
	if !ok || rawPrice == "" {
		return nil, "missing price"
	}
	rawQuantity, ok := get("Quantity")
	if !ok || rawQuantity == "" {
		return nil, "missing quantity"
	}

	cleaned, ok := entity.CleanNumeric(rawPrice)
	if !ok {
		return nil, fmt.Sprintf("invalid price %q", rawPrice)
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, fmt.Sprintf("invalid price %q", rawPrice)
	}

	cleaned, ok = entity.CleanNumeric(rawQuantity)
	if !ok {
		return nil, fmt.Sprintf("invalid quantity %q", rawQuantity)
	}
	quantity, err := strconv.ParseInt(cleaned, 10, 32)
	if err != nil {
		return nil, fmt.Sprintf("invalid quantity %q", rawQuantity)
	}

	return entity.PriceRow{
		Manufacturer: entity.NormalizeText(manufacturer),
		SKU:          sku,
		Price:        price,
		Quantity:     int32(quantity),
		Distributor:  distributor,
		UpdatedOn:    runTime,
	}, ""
}

// headerIndex maps required column names (lowercased) to their positions.
// Handles a UTF-8 BOM on the first header cell.
func headerIndex(header, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\uFEFF")
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := idx[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return idx, nil
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (l *Load) fail(line int, reason string) {
	l.Failures = append(l.Failures, RowError{Line: line, Reason: reason})
	l.Batch.Skipped++
}
