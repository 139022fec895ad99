package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"linkcheck/internal/models"
)

// exclusionColumns is the standard column list for exclusion rule queries.
const exclusionColumns = `id, match_type, link_type, target, scope_page_id, reason, created_at`

// ExclusionFilter narrows ListExclusionRules. Zero values match everything.
type ExclusionFilter struct {
	LinkType    string
	ScopePageID int64
}

func scanExclusionRule(row pgx.Row) (*models.ExclusionRule, error) {
	var r models.ExclusionRule
	var match string
	err := row.Scan(&r.ID, &match, &r.LinkType, &r.Target, &r.ScopePageID, &r.Reason, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExclusionNotFound
	}
	if err != nil {
		return nil, err
	}
	r.MatchType = models.MatchType(match)
	return &r, nil
}

// ListExclusionRules returns the rules matching the filter, oldest first.
// Before migrations have run the list is empty.
func (d *DB) ListExclusionRules(ctx context.Context, f ExclusionFilter) ([]models.ExclusionRule, error) {
	rows, err := d.Pool.Query(ctx, `
		SELECT `+exclusionColumns+`
		FROM exclusion_rules
		WHERE ($1::text = '' OR link_type = $1)
		  AND ($2::bigint <= 0 OR scope_page_id = $2)
		ORDER BY created_at, target
	`, f.LinkType, f.ScopePageID)
	if isUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list exclusion rules: %w", err)
	}
	defer rows.Close()

	var rules []models.ExclusionRule
	for rows.Next() {
		r, err := scanExclusionRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// GetExclusionRule returns a rule by ID.
func (d *DB) GetExclusionRule(ctx context.Context, id uuid.UUID) (*models.ExclusionRule, error) {
	return scanExclusionRule(d.Pool.QueryRow(ctx,
		`SELECT `+exclusionColumns+` FROM exclusion_rules WHERE id = $1`, id))
}

// CreateExclusionRule stores a new rule and fills in its ID and creation time.
func (d *DB) CreateExclusionRule(ctx context.Context, r *models.ExclusionRule) error {
	err := d.Pool.QueryRow(ctx, `
		INSERT INTO exclusion_rules (match_type, link_type, target, scope_page_id, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, string(r.MatchType), r.LinkType, r.Target, r.ScopePageID, r.Reason).Scan(&r.ID, &r.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateRule
	}
	if err != nil {
		return fmt.Errorf("failed to create exclusion rule: %w", err)
	}
	return nil
}

// EnsureExclusionRule creates a rule unless an identical one exists.
// Reports whether a row was inserted.
func (d *DB) EnsureExclusionRule(ctx context.Context, r *models.ExclusionRule) (bool, error) {
	err := d.CreateExclusionRule(ctx, r)
	if errors.Is(err, ErrDuplicateRule) {
		return false, nil
	}
	return err == nil, err
}

// DeleteExclusionRule removes a rule by ID.
func (d *DB) DeleteExclusionRule(ctx context.Context, id uuid.UUID) error {
	tag, err := d.Pool.Exec(ctx, `DELETE FROM exclusion_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete exclusion rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExclusionNotFound
	}
	return nil
}
