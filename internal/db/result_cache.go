package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"linkcheck/internal/models"
)

// CacheEntry is a stored check result keyed by (url, link type).
type CacheEntry struct {
	URL       string
	LinkType  string
	Response  []byte
	Status    models.Status
	LastCheck int64 // unix seconds, 0 = never checked
}

// GetCacheEntry returns the cached row for a target. A missing row or a
// missing table both yield ErrNotFound.
func (d *DB) GetCacheEntry(ctx context.Context, url, linkType string) (*CacheEntry, error) {
	e := CacheEntry{URL: url, LinkType: linkType}
	var response string
	var status int
	err := d.Pool.QueryRow(ctx, `
		SELECT url_response, check_status, last_check
		FROM link_target_cache
		WHERE url = $1 AND link_type = $2
	`, url, linkType).Scan(&response, &status, &e.LastCheck)
	if errors.Is(err, pgx.ErrNoRows) || isUndefinedTable(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	e.Response = []byte(response)
	e.Status = models.Status(status)
	return &e, nil
}

// UpsertCacheEntry inserts or replaces the cached row for a target.
func (d *DB) UpsertCacheEntry(ctx context.Context, e CacheEntry) error {
	_, err := d.Pool.Exec(ctx, `
		INSERT INTO link_target_cache (url, link_type, url_response, check_status, last_check)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url, link_type) DO UPDATE SET
			url_response = EXCLUDED.url_response,
			check_status = EXCLUDED.check_status,
			last_check = EXCLUDED.last_check,
			updated_at = NOW()
	`, e.URL, e.LinkType, string(e.Response), int(e.Status), e.LastCheck)
	if isUndefinedTable(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntry removes the cached row for a target.
func (d *DB) DeleteCacheEntry(ctx context.Context, url, linkType string) error {
	_, err := d.Pool.Exec(ctx, `DELETE FROM link_target_cache WHERE url = $1 AND link_type = $2`, url, linkType)
	if isUndefinedTable(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// CountCacheEntries returns how many rows exist for a target.
func (d *DB) CountCacheEntries(ctx context.Context, url, linkType string) (int, error) {
	var n int
	err := d.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM link_target_cache WHERE url = $1 AND link_type = $2
	`, url, linkType).Scan(&n)
	if isUndefinedTable(err) {
		return 0, nil
	}
	return n, err
}
