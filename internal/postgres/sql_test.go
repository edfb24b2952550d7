package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/jordanwelch/feedmerge/internal/entity"
	"github.com/jordanwelch/feedmerge/internal/scd"
)

func priceDef(t *testing.T) entity.Definition {
	t.Helper()
	def, ok := entity.Get("prices")
	if !ok {
		t.Fatal("prices entity not registered")
	}
	return def
}

func productDef(t *testing.T) entity.Definition {
	t.Helper()
	def, ok := entity.Get("products")
	if !ok {
		t.Fatal("products entity not registered")
	}
	return def
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"prices", `"prices"`},
		{`evil"name`, `"evil""name"`},
	}
	for _, tt := range tests {
		if got := quoteIdentifier(tt.in); got != tt.want {
			t.Errorf("quoteIdentifier(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestKeyPredicate(t *testing.T) {
	def := priceDef(t)
	keys := []scd.Key{
		{Manufacturer: "Acme", SKU: "A-100", Distributor: "globex"},
		{Manufacturer: "Acme", SKU: "B-200", Distributor: "initech"},
	}

	sql, args, next := keyPredicate(def, keys, 1)

	want := `("manufacturer", "sku", "distributor") IN (($1, $2, $3), ($4, $5, $6))`
	if sql != want {
		t.Errorf("predicate = %s\nwant %s", sql, want)
	}
	if len(args) != 6 {
		t.Fatalf("args = %d, want 6", len(args))
	}
	if args[0] != "Acme" || args[1] != "A-100" || args[2] != "globex" {
		t.Errorf("first key args = %v", args[:3])
	}
	if next != 7 {
		t.Errorf("next placeholder = %d, want 7", next)
	}
}

func TestKeyPredicate_StartIndex(t *testing.T) {
	// The merge close statement binds the run timestamp at $1 first.
	def := productDef(t)
	sql, args, next := keyPredicate(def, []scd.Key{{Manufacturer: "Acme", SKU: "A-100"}}, 2)

	want := `("manufacturer", "sku") IN (($2, $3))`
	if sql != want {
		t.Errorf("predicate = %s, want %s", sql, want)
	}
	if len(args) != 2 || next != 4 {
		t.Errorf("args = %d, next = %d; want 2, 4", len(args), next)
	}
}

func TestChunkKeys(t *testing.T) {
	keys := make([]scd.Key, keyChunkSize+3)
	for i := range keys {
		keys[i] = scd.Key{SKU: "sku"}
	}

	chunks := chunkKeys(keys)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if len(chunks[0]) != keyChunkSize || len(chunks[1]) != 3 {
		t.Errorf("chunk sizes = %d, %d; want %d, 3", len(chunks[0]), len(chunks[1]), keyChunkSize)
	}

	if chunkKeys(nil) != nil {
		t.Error("chunkKeys(nil) should be nil")
	}
}

func TestStagingDDL(t *testing.T) {
	ddl := stagingDDL(priceDef(t))

	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "stg_prices"`,
		`"price" DOUBLE PRECISION`,
		`"quantity" INTEGER`,
		"ingestion_timestamp TIMESTAMPTZ NOT NULL DEFAULT now()",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("staging DDL missing %q:\n%s", want, ddl)
		}
	}
	if strings.Contains(ddl, "valid_from") {
		t.Error("staging table must not carry versioning columns")
	}
}

func TestTargetDDL(t *testing.T) {
	ddl := targetDDL(priceDef(t))

	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "prices"`,
		"valid_from TIMESTAMPTZ NOT NULL",
		"valid_to TIMESTAMPTZ",
		"is_current BOOLEAN NOT NULL DEFAULT TRUE",
		`PRIMARY KEY ("manufacturer", "sku", "distributor", valid_from)`,
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("target DDL missing %q:\n%s", want, ddl)
		}
	}
}

func TestCurrentIndexDDL(t *testing.T) {
	ddl := currentIndexDDL(productDef(t))

	want := `CREATE UNIQUE INDEX IF NOT EXISTS "uq_products_current" ON "products" ("manufacturer", "sku") WHERE is_current`
	if ddl != want {
		t.Errorf("index DDL = %s\nwant %s", ddl, want)
	}
}

func TestWhereBuilder(t *testing.T) {
	wb := newWhereBuilder()
	wb.add("table_name", "prices")
	wb.add("status", "") // skipped
	wb.addTimestampRange("created_at",
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	clause, args := wb.build()

	want := " WHERE table_name = $1 AND created_at >= $2 AND created_at < $3"
	if clause != want {
		t.Errorf("clause = %q, want %q", clause, want)
	}
	if len(args) != 3 {
		t.Errorf("args = %d, want 3", len(args))
	}
	if wb.nextArgIndex() != 4 {
		t.Errorf("nextArgIndex() = %d, want 4", wb.nextArgIndex())
	}
}

func TestWhereBuilder_Empty(t *testing.T) {
	wb := newWhereBuilder()
	wb.add("table_name", "")
	wb.addTimestampRange("created_at", time.Time{}, time.Time{})

	clause, args := wb.build()
	if clause != "" || args != nil {
		t.Errorf("build() = (%q, %v), want empty clause and nil args", clause, args)
	}
	if wb.nextArgIndex() != 1 {
		t.Errorf("nextArgIndex() = %d, want 1", wb.nextArgIndex())
	}
}

func TestToPgText(t *testing.T) {
	if got := toPgText(""); got.Valid {
		t.Error("empty string should map to NULL")
	}
	got := toPgText("boom")
	if !got.Valid || got.String != "boom" {
		t.Errorf("toPgText(boom) = %+v", got)
	}
}
