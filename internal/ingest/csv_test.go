package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jordanwelch/feedmerge/internal/entity"
	"github.com/jordanwelch/feedmerge/internal/scd"
)

var runTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func TestPriceCSV(t *testing.T) {
	csv := strings.Join([]string{
		"Manufacturer,SKU,Price,Quantity",
		"Acme,A-100,$19.99,5",
		"  Acme  Corp ,B-200,24.50,12",
	}, "\n")

	load, err := PriceCSV(strings.NewReader(csv), "globex", runTime)
	if err != nil {
		t.Fatalf("PriceCSV() error = %v", err)
	}

	if load.Batch.Entity != "prices" || load.Batch.SourceID != "globex" {
		t.Errorf("batch identity = %s/%s, want prices/globex", load.Batch.Entity, load.Batch.SourceID)
	}
	if len(load.Batch.Rows) != 2 || load.Batch.Skipped != 0 {
		t.Fatalf("rows = %d, skipped = %d; want 2, 0", len(load.Batch.Rows), load.Batch.Skipped)
	}

	first := load.Batch.Rows[0].(entity.PriceRow)
	if first.Manufacturer != "Acme" || first.SKU != "A-100" || first.Price != 19.99 || first.Quantity != 5 {
		t.Errorf("first row = %+v", first)
	}
	if first.Distributor != "globex" {
		t.Errorf("distributor = %q, want stamped globex", first.Distributor)
	}
	if !first.UpdatedOn.Equal(runTime) {
		t.Errorf("updated_on = %s, want run time %s", first.UpdatedOn, runTime)
	}

	// Manufacturer whitespace is normalized.
	second := load.Batch.Rows[1].(entity.PriceRow)
	if second.Manufacturer != "Acme Corp" {
		t.Errorf("second manufacturer = %q, want %q", second.Manufacturer, "Acme Corp")
	}
}

func TestPriceCSV_SkipsBadRows(t *testing.T) {
	csv := strings.Join([]string{
		"Manufacturer,SKU,Price,Quantity",
		"Acme,A-100,19.99,5",
		",B-200,10.00,1",         // missing manufacturer
		"Acme,C-300,not-money,1", // invalid price
		"Acme,D-400,5.00,many",   // invalid quantity
		"   ,  ,  ,  ",           // blank row, ignored entirely
		"Acme,E-500,1.00,2",
	}, "\n")

	load, err := PriceCSV(strings.NewReader(csv), "globex", runTime)
	if err != nil {
		t.Fatalf("PriceCSV() error = %v", err)
	}

	if len(load.Batch.Rows) != 2 {
		t.Errorf("rows = %d, want 2", len(load.Batch.Rows))
	}
	if load.Batch.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", load.Batch.Skipped)
	}
	if len(load.Failures) != load.Batch.Skipped {
		t.Errorf("failures = %d, must equal skipped = %d", len(load.Failures), load.Batch.Skipped)
	}

	// Failures carry 1-based line numbers from the file.
	if load.Failures[0].Line != 3 {
		t.Errorf("first failure line = %d, want 3", load.Failures[0].Line)
	}
}

func TestPriceCSV_HeaderCaseAndOrder(t *testing.T) {
	csv := "quantity,price,sku,manufacturer\n7,9.99,A-100,Acme\n"

	load, err := PriceCSV(strings.NewReader(csv), "globex", runTime)
	if err != nil {
		t.Fatalf("PriceCSV() error = %v", err)
	}
	row := load.Batch.Rows[0].(entity.PriceRow)
	if row.SKU != "A-100" || row.Quantity != 7 || row.Price != 9.99 {
		t.Errorf("row = %+v, columns must bind by header name", row)
	}
}

func TestPriceCSV_BOMHeader(t *testing.T) {
	csv := "\uFEFFManufacturer,SKU,Price,Quantity\nAcme,A-100,1.00,1\n"

	load, err := PriceCSV(strings.NewReader(csv), "globex", runTime)
	if err != nil {
		t.Fatalf("PriceCSV() error = %v", err)
	}
	if len(load.Batch.Rows) != 1 {
		t.Errorf("rows = %d, want 1", len(load.Batch.Rows))
	}
}

func TestPriceCSV_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		distributor string
	}{
		{"empty distributor", "Manufacturer,SKU,Price,Quantity\n", "  "},
		{"empty file", "", "globex"},
		{"missing column", "Manufacturer,SKU,Price\nAcme,A-100,1.00\n", "globex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PriceCSV(strings.NewReader(tt.input), tt.distributor, runTime)
			var verr *scd.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("PriceCSV() error = %v, want *scd.ValidationError", err)
			}
		})
	}
}
