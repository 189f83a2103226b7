// Package sqlexec defines the query executor consumed by the query and txn packages and
// a bun backed implementation for SQLite.
package sqlexec

import (
	"context"
	"errors"
)

// ErrNoRows is returned by fetchers that require exactly one row and found none.
var ErrNoRows = errors.New("sqlexec: no rows in result set")

// Row is a single result row keyed by column name.
type Row = map[string]any

// Result describes the effect of a mutation.
type Result struct {
	RowsAffected  int64
	InsertedID    int64
	HasInsertedID bool
}

// Executor runs parameterized SQL. Placeholders are `?`.
type Executor interface {
	// Execute runs a mutation.
	Execute(ctx context.Context, stmt string, params ...any) (Result, error)
	// QueryAll runs a read and returns every row.
	QueryAll(ctx context.Context, stmt string, params ...any) ([]Row, error)
	// QueryOne runs a read and returns the first row, if any.
	QueryOne(ctx context.Context, stmt string, params ...any) (Row, bool, error)
	// RunRaw runs DDL, PRAGMA and transaction control statements.
	RunRaw(ctx context.Context, stmt string) error
}
