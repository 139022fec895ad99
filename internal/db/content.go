package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"linkcheck/internal/models"
)

// contentColumns is the standard column list for content record queries.
const contentColumns = `source_table, record_id, page_id, field, title, body, content_type, deleted`

func scanContentRecords(rows pgx.Rows) ([]models.ContentRecord, error) {
	defer rows.Close()

	var records []models.ContentRecord
	for rows.Next() {
		var r models.ContentRecord
		if err := rows.Scan(&r.SourceTable, &r.RecordID, &r.PageID, &r.Field, &r.Title, &r.Body, &r.ContentType, &r.Deleted); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListContentRecords returns live content fields on the given pages, or on
// every page when pageIDs is empty.
func (d *DB) ListContentRecords(ctx context.Context, pageIDs []int64) ([]models.ContentRecord, error) {
	if pageIDs == nil {
		pageIDs = []int64{}
	}
	rows, err := d.Pool.Query(ctx, `
		SELECT `+contentColumns+`
		FROM content_records
		WHERE NOT deleted AND (cardinality($1::bigint[]) = 0 OR page_id = ANY($1))
		ORDER BY page_id, source_table, record_id, field
	`, pageIDs)
	if isUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list content records: %w", err)
	}
	return scanContentRecords(rows)
}

// GetRecordContent returns the live fields of one record. An empty slice
// means the record is gone.
func (d *DB) GetRecordContent(ctx context.Context, table string, recordID int64) ([]models.ContentRecord, error) {
	rows, err := d.Pool.Query(ctx, `
		SELECT `+contentColumns+`
		FROM content_records
		WHERE source_table = $1 AND record_id = $2 AND NOT deleted
		ORDER BY field
	`, table, recordID)
	if isUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record content: %w", err)
	}
	return scanContentRecords(rows)
}

// UpsertContentRecord stores one field of a content record.
func (d *DB) UpsertContentRecord(ctx context.Context, r models.ContentRecord) error {
	if r.ContentType == "" {
		r.ContentType = models.ContentHTML
	}
	_, err := d.Pool.Exec(ctx, `
		INSERT INTO content_records (source_table, record_id, page_id, field, title, body, content_type, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_table, record_id, field) DO UPDATE SET
			page_id = EXCLUDED.page_id,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			content_type = EXCLUDED.content_type,
			deleted = EXCLUDED.deleted,
			updated_at = NOW()
	`, r.SourceTable, r.RecordID, r.PageID, r.Field, r.Title, r.Body, r.ContentType, r.Deleted)
	if err != nil {
		return fmt.Errorf("failed to upsert content record: %w", err)
	}
	return nil
}
