package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jordanwelch/feedmerge/internal/entity"
)

// Setup provisions the staging, target, and audit tables for every
// registered entity. All statements are idempotent; Setup runs at every
// pipeline start.
func (s *Store) Setup(ctx context.Context) error {
	for _, def := range entity.All() {
		if _, err := s.pool.Exec(ctx, stagingDDL(def)); err != nil {
			return fmt.Errorf("create staging table for %s: %w", def.Info.Key, err)
		}
		if _, err := s.pool.Exec(ctx, targetDDL(def)); err != nil {
			return fmt.Errorf("create target table for %s: %w", def.Info.Key, err)
		}
		if _, err := s.pool.Exec(ctx, currentIndexDDL(def)); err != nil {
			return fmt.Errorf("create current-version index for %s: %w", def.Info.Key, err)
		}
	}

	if _, err := s.pool.Exec(ctx, auditDDL); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// stagingDDL builds the staging table: source columns plus the ingestion
// timestamp. Content is fully replaced every run.
func stagingDDL(def entity.Definition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", quoteIdentifier(def.Info.StagingTable))
	for i, col := range def.Columns {
		fmt.Fprintf(&sb, "\t%s %s,\n", quoteIdentifier(col), def.ColumnTypes[i])
	}
	sb.WriteString("\tingestion_timestamp TIMESTAMPTZ NOT NULL DEFAULT now()\n)")
	return sb.String()
}

// targetDDL builds the historized target table: source columns plus the
// SCD2 bookkeeping columns, keyed on (natural key, valid_from).
func targetDDL(def entity.Definition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", quoteIdentifier(def.Info.TargetTable))
	for i, col := range def.Columns {
		fmt.Fprintf(&sb, "\t%s %s,\n", quoteIdentifier(col), def.ColumnTypes[i])
	}
	sb.WriteString("\tvalid_from TIMESTAMPTZ NOT NULL,\n")
	sb.WriteString("\tvalid_to TIMESTAMPTZ,\n")
	sb.WriteString("\tis_current BOOLEAN NOT NULL DEFAULT TRUE,\n")
	sb.WriteString("\tingestion_timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),\n")
	fmt.Fprintf(&sb, "\tPRIMARY KEY (%s, valid_from)\n)", strings.Join(quoteColumns(def.KeyColumns), ", "))
	return sb.String()
}

// currentIndexDDL builds a partial unique index so the database itself
// rejects a second current version for any key.
func currentIndexDDL(def entity.Definition) string {
	return fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s) WHERE is_current",
		quoteIdentifier("uq_"+def.Info.TargetTable+"_current"),
		quoteIdentifier(def.Info.TargetTable),
		strings.Join(quoteColumns(def.KeyColumns), ", "),
	)
}

const auditDDL = `CREATE TABLE IF NOT EXISTS etl_audit_log (
	audit_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	run_id UUID NOT NULL,
	table_name TEXT NOT NULL,
	operation TEXT NOT NULL,
	records_processed INTEGER NOT NULL,
	records_inserted INTEGER NOT NULL,
	records_updated INTEGER NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
