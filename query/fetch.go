package query

import (
	"context"
	"fmt"

	"github.com/goliatone/go-query-cache/sqlexec"
)

// AllRows returns every row of the query.
func AllRows(ctx context.Context, exec sqlexec.Executor, query string, params []any) ([]sqlexec.Row, error) {
	return exec.QueryAll(ctx, query, params...)
}

// OneRow returns the first row of the query, or sqlexec.ErrNoRows.
func OneRow(ctx context.Context, exec sqlexec.Executor, query string, params []any) (sqlexec.Row, error) {
	row, found, err := exec.QueryOne(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, sqlexec.ErrNoRows
	}
	return row, nil
}

// MapRows adapts AllRows into a fetcher of typed values.
func MapRows[T any](mapper func(sqlexec.Row) (T, error)) Fetcher[[]T] {
	return func(ctx context.Context, exec sqlexec.Executor, query string, params []any) ([]T, error) {
		rows, err := exec.QueryAll(ctx, query, params...)
		if err != nil {
			return nil, err
		}

		out := make([]T, 0, len(rows))
		for i, row := range rows {
			v, err := mapper(row)
			if err != nil {
				return nil, fmt.Errorf("map row %d: %w", i, err)
			}
			out = append(out, v)
		}
		return out, nil
	}
}
