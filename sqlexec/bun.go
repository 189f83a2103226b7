package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

var _ Executor = (*BunExecutor)(nil)

// BunExecutor implements Executor on top of a *bun.DB.
//
// Transaction control goes through RunRaw, so the underlying pool must hand out a
// single connection (see OpenSQLite) for BEGIN/COMMIT to apply to the statements in
// between.
type BunExecutor struct {
	db *bun.DB
}

// NewBunExecutor wraps db.
func NewBunExecutor(db *bun.DB) *BunExecutor {
	return &BunExecutor{db: db}
}

// DB exposes the wrapped database.
func (e *BunExecutor) DB() *bun.DB {
	return e.db
}

// OpenSQLite opens a SQLite database through modernc.org/sqlite, pinned to a single
// connection. Use ":memory:" for an ephemeral database.
func OpenSQLite(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", dsn, err)
	}

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func (e *BunExecutor) Execute(ctx context.Context, stmt string, params ...any) (Result, error) {
	res, err := e.db.ExecContext(ctx, stmt, params...)
	if err != nil {
		return Result{}, err
	}

	out := Result{}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.InsertedID = id
		out.HasInsertedID = true
	}
	return out, nil
}

func (e *BunExecutor) QueryAll(ctx context.Context, stmt string, params ...any) ([]Row, error) {
	var rows []map[string]interface{}
	if err := e.db.NewRaw(stmt, params...).Scan(ctx, &rows); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []Row{}, nil
		}
		return nil, err
	}

	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func (e *BunExecutor) QueryOne(ctx context.Context, stmt string, params ...any) (Row, bool, error) {
	var row map[string]interface{}
	if err := e.db.NewRaw(stmt, params...).Scan(ctx, &row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return row, true, nil
}

func (e *BunExecutor) RunRaw(ctx context.Context, stmt string) error {
	_, err := e.db.ExecContext(ctx, stmt)
	return err
}
