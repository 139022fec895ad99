package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Domain-level database error sentinels.
var (
	ErrNotFound          = errors.New("not found")
	ErrExclusionNotFound = errors.New("exclusion rule not found")
	ErrDuplicateRule     = errors.New("exclusion rule already exists")
)

// Postgres error codes the repositories react to.
const (
	codeUniqueViolation = "23505"
	codeUndefinedTable  = "42P01"
)

// isUndefinedTable reports whether err means the schema has not been migrated yet.
// Callers degrade to an empty result instead of failing.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUndefinedTable
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
