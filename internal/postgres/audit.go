package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jordanwelch/feedmerge/internal/scd"
)

// AppendAudit writes one run outcome to the append-only audit log.
func (s *Store) AppendAudit(ctx context.Context, entry scd.AuditEntry) error {
	runID, err := uuid.Parse(entry.RunID)
	if err != nil {
		return fmt.Errorf("audit entry has invalid run id %q: %w", entry.RunID, err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO etl_audit_log
		(run_id, table_name, operation, records_processed, records_inserted,
		 records_updated, start_time, end_time, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pgtype.UUID{Bytes: runID, Valid: true},
		entry.TableName,
		entry.Operation,
		entry.RecordsProcessed,
		entry.RecordsInserted,
		entry.RecordsUpdated,
		entry.StartTime,
		entry.EndTime,
		string(entry.Status),
		toPgText(entry.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditFilter narrows an audit log query. Zero values mean "no filter".
type AuditFilter struct {
	TableName string
	Status    scd.RunStatus
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// DefaultAuditLimit caps unpaginated audit queries.
const DefaultAuditLimit = 100

// AuditRecord is one persisted audit entry plus its database identity.
type AuditRecord struct {
	AuditID   int64         `json:"auditId"`
	Entry     scd.AuditEntry `json:"entry"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ListAudit returns audit entries matching the filter, newest first.
func (s *Store) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultAuditLimit
	}

	wb := newWhereBuilder()
	wb.add("table_name", filter.TableName)
	wb.add("status", string(filter.Status))
	wb.addTimestampRange("created_at", filter.StartTime, filter.EndTime)
	whereClause, args := wb.build()

	query := `SELECT audit_id, run_id, table_name, operation, records_processed,
		records_inserted, records_updated, start_time, end_time, status,
		error_message, created_at FROM etl_audit_log` + whereClause +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", wb.nextArgIndex(), wb.nextArgIndex()+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	records := make([]AuditRecord, 0)
	for rows.Next() {
		var (
			rec     AuditRecord
			runID   pgtype.UUID
			status  string
			errMsg  pgtype.Text
			created pgtype.Timestamptz
		)
		err := rows.Scan(&rec.AuditID, &runID, &rec.Entry.TableName, &rec.Entry.Operation,
			&rec.Entry.RecordsProcessed, &rec.Entry.RecordsInserted, &rec.Entry.RecordsUpdated,
			&rec.Entry.StartTime, &rec.Entry.EndTime, &status, &errMsg, &created)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		if runID.Valid {
			rec.Entry.RunID = uuid.UUID(runID.Bytes).String()
		}
		rec.Entry.Status = scd.RunStatus(status)
		if errMsg.Valid {
			rec.Entry.ErrorMessage = errMsg.String
		}
		rec.CreatedAt = created.Time
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return records, nil
}

// CountAudit returns how many audit entries match the filter.
func (s *Store) CountAudit(ctx context.Context, filter AuditFilter) (int64, error) {
	wb := newWhereBuilder()
	wb.add("table_name", filter.TableName)
	wb.add("status", string(filter.Status))
	wb.addTimestampRange("created_at", filter.StartTime, filter.EndTime)
	whereClause, args := wb.build()

	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM etl_audit_log"+whereClause, args...).Scan(&count)
	return count, err
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}
