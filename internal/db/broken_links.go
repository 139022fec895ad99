package db

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"linkcheck/internal/models"
)

// brokenLinkColumns is the standard column list for broken link queries.
const brokenLinkColumns = `id, source_table, source_record_id, page_id, field, link_type, link_title,
	url, url_hash, check_status, url_response, exclusion_scope, last_check_url, last_check_record,
	created_at, updated_at`

// URL filter modes for ListBrokenLinks.
const (
	URLMatchPartial    = "partial"
	URLMatchExact      = "exact"
	URLMatchPartialNot = "partialnot"
	URLMatchExactNot   = "exactnot"
)

// brokenLinkOrder maps public order keys to SQL.
var brokenLinkOrder = map[string]string{
	"url":        "url",
	"status":     "check_status",
	"last_check": "last_check_url",
	"page":       "page_id",
	"record":     "source_table, source_record_id",
}

// BrokenLinkFilter narrows ListBrokenLinks. Zero values match everything.
type BrokenLinkFilter struct {
	PageIDs     []int64
	LinkTypes   []string
	Statuses    []models.Status
	SourceTable string
	RecordID    int64
	URL         string
	URLMatch    string
	OrderBy     string
	Desc        bool
	Limit       int
	Offset      int
}

func scanBrokenLink(row pgx.Row) (*models.BrokenLinkEntry, error) {
	var e models.BrokenLinkEntry
	var status int
	var response string
	err := row.Scan(
		&e.ID,
		&e.SourceTable,
		&e.SourceRecordID,
		&e.PageID,
		&e.Field,
		&e.LinkType,
		&e.LinkTitle,
		&e.URL,
		&e.URLHash,
		&status,
		&response,
		&e.ExclusionScope,
		&e.LastCheckedURL,
		&e.LastCheckedRecord,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = models.Status(status)
	// An unreadable response blob leaves Response nil; the row itself is still valid.
	if rec, err := models.ParseResponseRecord([]byte(response)); err == nil {
		e.Response = rec
	}
	return &e, nil
}

func encodeResponse(rec *models.ResponseRecord) (string, error) {
	if rec == nil {
		return "", nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode response: %w", err)
	}
	return string(data), nil
}

// UpsertBrokenLink inserts or updates the entry for
// (source_table, source_record_id, field, url) and reports whether a new row
// was inserted.
func (d *DB) UpsertBrokenLink(ctx context.Context, e *models.BrokenLinkEntry) (bool, error) {
	response, err := encodeResponse(e.Response)
	if err != nil {
		return false, err
	}
	if e.URLHash == "" {
		e.URLHash = models.HashURL(e.URL)
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}

	var inserted bool
	err = d.Pool.QueryRow(ctx, `
		INSERT INTO broken_links (
			source_table, source_record_id, page_id, field, link_type, link_title,
			url, url_hash, check_status, url_response, exclusion_scope,
			last_check_url, last_check_record, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (source_table, source_record_id, field, url) DO UPDATE SET
			page_id = EXCLUDED.page_id,
			link_type = EXCLUDED.link_type,
			link_title = EXCLUDED.link_title,
			check_status = EXCLUDED.check_status,
			url_response = EXCLUDED.url_response,
			exclusion_scope = EXCLUDED.exclusion_scope,
			last_check_url = EXCLUDED.last_check_url,
			last_check_record = EXCLUDED.last_check_record,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, (xmax = 0) AS inserted
	`,
		e.SourceTable,
		e.SourceRecordID,
		e.PageID,
		e.Field,
		e.LinkType,
		e.LinkTitle,
		e.URL,
		e.URLHash,
		int(e.Status),
		response,
		e.ExclusionScope,
		e.LastCheckedURL,
		e.LastCheckedRecord,
		e.UpdatedAt,
	).Scan(&e.ID, &e.CreatedAt, &inserted)
	if isUndefinedTable(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert broken link: %w", err)
	}
	return inserted, nil
}

// UpdateBrokenLinksForURL rewrites the result of every entry pointing at
// (url, linkType).
func (d *DB) UpdateBrokenLinksForURL(ctx context.Context, target, linkType string, rec *models.ResponseRecord, at time.Time) (int64, error) {
	response, err := encodeResponse(rec)
	if err != nil {
		return 0, err
	}
	var lastCheck *time.Time
	if !rec.LastChecked.IsZero() {
		lastCheck = &rec.LastChecked
	}
	tag, err := d.Pool.Exec(ctx, `
		UPDATE broken_links
		SET check_status = $3, url_response = $4, last_check_url = $5, updated_at = $6
		WHERE url_hash = $1 AND link_type = $2
	`, models.HashURL(target), linkType, int(rec.Status), response, lastCheck, at)
	return rowsAffected(tag.RowsAffected(), err, "update broken links for url")
}

// TouchBrokenLinks bumps updated_at on the given entries so stale-entry
// reconciliation leaves them alone.
func (d *DB) TouchBrokenLinks(ctx context.Context, keys []models.EntryKey, at time.Time) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(`
			UPDATE broken_links SET updated_at = $5
			WHERE source_table = $1 AND source_record_id = $2 AND field = $3 AND url = $4
		`, k.SourceTable, k.SourceRecordID, k.Field, k.URL, at)
	}
	results := d.Pool.SendBatch(ctx, batch)
	defer results.Close()

	var total int64
	for range keys {
		tag, err := results.Exec()
		if isUndefinedTable(err) {
			return 0, nil
		}
		if err != nil {
			return total, fmt.Errorf("failed to touch broken link: %w", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// RemoveBrokenLinksForRecord deletes every entry of a record.
func (d *DB) RemoveBrokenLinksForRecord(ctx context.Context, table string, recordID int64) (int64, error) {
	tag, err := d.Pool.Exec(ctx, `
		DELETE FROM broken_links WHERE source_table = $1 AND source_record_id = $2
	`, table, recordID)
	return rowsAffected(tag.RowsAffected(), err, "remove broken links for record")
}

// RemoveBrokenLinkForRecordURL deletes the entries of one URL inside a record.
func (d *DB) RemoveBrokenLinkForRecordURL(ctx context.Context, table string, recordID int64, target, linkType string) (int64, error) {
	tag, err := d.Pool.Exec(ctx, `
		DELETE FROM broken_links
		WHERE source_table = $1 AND source_record_id = $2 AND url = $3 AND link_type = $4
	`, table, recordID, target, linkType)
	return rowsAffected(tag.RowsAffected(), err, "remove broken link for record url")
}

// RemoveBrokenLinksForRecordBefore deletes a record's entries not updated since before.
func (d *DB) RemoveBrokenLinksForRecordBefore(ctx context.Context, table string, recordID int64, before time.Time) (int64, error) {
	tag, err := d.Pool.Exec(ctx, `
		DELETE FROM broken_links
		WHERE source_table = $1 AND source_record_id = $2 AND updated_at < $3
	`, table, recordID, before)
	return rowsAffected(tag.RowsAffected(), err, "remove stale broken links for record")
}

// RemoveBrokenLinksForPagesBefore deletes entries on the given pages and link
// types that were not updated since before. An empty page list means all pages.
func (d *DB) RemoveBrokenLinksForPagesBefore(ctx context.Context, pageIDs []int64, linkTypes []string, before time.Time) (int64, error) {
	if len(linkTypes) == 0 {
		return 0, nil
	}
	if pageIDs == nil {
		pageIDs = []int64{}
	}
	tag, err := d.Pool.Exec(ctx, `
		DELETE FROM broken_links
		WHERE (cardinality($1::bigint[]) = 0 OR page_id = ANY($1))
		  AND link_type = ANY($2)
		  AND updated_at < $3
	`, pageIDs, linkTypes, before)
	return rowsAffected(tag.RowsAffected(), err, "remove stale broken links for pages")
}

// RemoveBrokenLinksForLinkTarget deletes entries for an exact URL or for every
// URL on a domain. A negative scope matches entries of every exclusion scope.
func (d *DB) RemoveBrokenLinksForLinkTarget(ctx context.Context, target, linkType string, match models.MatchType, scope int64) (int64, error) {
	var (
		where string
		args  []any
	)
	switch match {
	case models.MatchExact:
		where = `url = $1`
		args = append(args, target)
	case models.MatchDomain:
		domain := target
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			domain = u.Hostname()
		}
		domain = escapeLike(domain)
		where = `(url LIKE $1 OR url LIKE $2)`
		args = append(args, "%://"+domain+"/%", "%://"+domain)
	default:
		return 0, nil
	}

	args = append(args, linkType)
	query := `DELETE FROM broken_links WHERE ` + where + ` AND link_type = $` + strconv.Itoa(len(args))
	if scope >= 0 {
		args = append(args, scope)
		query += ` AND exclusion_scope = $` + strconv.Itoa(len(args))
	}

	tag, err := d.Pool.Exec(ctx, query, args...)
	return rowsAffected(tag.RowsAffected(), err, "remove broken links for link target")
}

// IsLinkTargetBroken reports whether any entry for (url, linkType) is broken.
func (d *DB) IsLinkTargetBroken(ctx context.Context, target, linkType string) (bool, error) {
	var exists bool
	err := d.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM broken_links
			WHERE url_hash = $1 AND link_type = $2 AND check_status = $3
		)
	`, models.HashURL(target), linkType, int(models.StatusBroken)).Scan(&exists)
	if isUndefinedTable(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check link target: %w", err)
	}
	return exists, nil
}

// ListBrokenLinks returns entries matching the filter.
func (d *DB) ListBrokenLinks(ctx context.Context, f BrokenLinkFilter) ([]models.BrokenLinkEntry, error) {
	where, args := f.where()

	order := "page_id, source_table, source_record_id"
	if col, ok := brokenLinkOrder[f.OrderBy]; ok {
		order = col
		if f.Desc {
			order += " DESC"
		}
		order += ", id"
	}

	query := `SELECT ` + brokenLinkColumns + ` FROM broken_links` + where + ` ORDER BY ` + order
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := d.Pool.Query(ctx, query, args...)
	if isUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list broken links: %w", err)
	}
	defer rows.Close()

	var entries []models.BrokenLinkEntry
	for rows.Next() {
		e, err := scanBrokenLink(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// CountBrokenLinks returns how many entries match the filter.
func (d *DB) CountBrokenLinks(ctx context.Context, f BrokenLinkFilter) (int64, error) {
	where, args := f.where()
	var n int64
	err := d.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM broken_links`+where, args...).Scan(&n)
	if isUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count broken links: %w", err)
	}
	return n, nil
}

// LinkCountForPage returns the number of entries on a page with the given status.
func (d *DB) LinkCountForPage(ctx context.Context, pageID int64, status models.Status) (int64, error) {
	return d.CountBrokenLinks(ctx, BrokenLinkFilter{PageIDs: []int64{pageID}, Statuses: []models.Status{status}})
}

// CountBrokenLinksByStatus returns entry counts grouped by status.
func (d *DB) CountBrokenLinksByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := d.Pool.Query(ctx, `SELECT check_status, COUNT(*) FROM broken_links GROUP BY check_status`)
	if isUndefinedTable(err) {
		return map[models.Status]int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to count broken links: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int64)
	for rows.Next() {
		var status int
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func (f BrokenLinkFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}

	if len(f.PageIDs) > 0 {
		add("page_id = ANY(?)", f.PageIDs)
	}
	if len(f.LinkTypes) > 0 {
		add("link_type = ANY(?)", f.LinkTypes)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]int32, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = int32(s)
		}
		add("check_status = ANY(?)", statuses)
	}
	if f.SourceTable != "" {
		add("source_table = ?", f.SourceTable)
	}
	if f.RecordID > 0 {
		add("source_record_id = ?", f.RecordID)
	}
	if f.URL != "" {
		switch f.URLMatch {
		case URLMatchExact:
			add("url = ?", f.URL)
		case URLMatchExactNot:
			add("url <> ?", f.URL)
		case URLMatchPartialNot:
			add("url NOT LIKE ?", "%"+escapeLike(f.URL)+"%")
		default:
			add("url LIKE ?", "%"+escapeLike(f.URL)+"%")
		}
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func rowsAffected(n int64, err error, op string) (int64, error) {
	if isUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return n, nil
}
