package txn

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-query-cache/sqlexec"
)

// identifiers are interpolated into SQL, so only plain names and schema.name pairs pass.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Update is a single row change for BatchUpdate.
type Update struct {
	ID     any
	Values map[string]any
}

// BatchInsert inserts every record into table inside one transaction and returns the
// number of rows written. When columns is empty they are the sorted union of the keys
// of all records; otherwise a record with a key outside columns is rejected with
// ErrUnknownColumn. Missing values are inserted as NULL.
func (r *Runner) BatchInsert(ctx context.Context, table string, records []sqlexec.Row, columns []string, opts ...RunOption) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		columns = unionKeys(records)
	} else if err := checkColumns(records, columns); err != nil {
		return 0, err
	}
	if err := validateIdentifiers(append([]string{table}, columns...)...); err != nil {
		return 0, err
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders(len(columns)))

	var total int64
	err := r.Run(ctx, func(ctx context.Context, exec sqlexec.Executor) error {
		for i, rec := range records {
			params := make([]any, len(columns))
			for j, col := range columns {
				params[j] = rec[col]
			}
			res, err := exec.Execute(ctx, stmt, params...)
			if err != nil {
				return fmt.Errorf("txn: insert record %d into %s: %w", i, table, err)
			}
			total += res.RowsAffected
		}
		return nil
	}, opts...)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// BatchUpdate applies every update inside one transaction and returns the number of
// rows changed. Columns of each update are written in sorted order.
func (r *Runner) BatchUpdate(ctx context.Context, table string, updates []Update, opts ...RunOption) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	cfg := newRunConfig(opts)

	names := []string{table, cfg.idColumn}
	for i, u := range updates {
		if len(u.Values) == 0 {
			return 0, fmt.Errorf("%w: update %d", ErrEmptyUpdate, i)
		}
		names = append(names, sortedKeys(u.Values)...)
	}
	if err := validateIdentifiers(names...); err != nil {
		return 0, err
	}

	var total int64
	err := r.Run(ctx, func(ctx context.Context, exec sqlexec.Executor) error {
		for i, u := range updates {
			cols := sortedKeys(u.Values)
			sets := make([]string, len(cols))
			params := make([]any, 0, len(cols)+1)
			for j, col := range cols {
				sets[j] = col + " = ?"
				params = append(params, u.Values[col])
			}
			params = append(params, u.ID)

			stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", table, strings.Join(sets, ", "), cfg.idColumn)
			res, err := exec.Execute(ctx, stmt, params...)
			if err != nil {
				return fmt.Errorf("txn: update %d in %s: %w", i, table, err)
			}
			total += res.RowsAffected
		}
		return nil
	}, opts...)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// BatchDelete removes the rows whose key is in ids with a single statement.
func (r *Runner) BatchDelete(ctx context.Context, table string, ids []any, opts ...RunOption) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cfg := newRunConfig(opts)
	if err := validateIdentifiers(table, cfg.idColumn); err != nil {
		return 0, err
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", table, cfg.idColumn, placeholders(len(ids)))

	var total int64
	err := r.Run(ctx, func(ctx context.Context, exec sqlexec.Executor) error {
		res, err := exec.Execute(ctx, stmt, ids...)
		if err != nil {
			return fmt.Errorf("txn: delete from %s: %w", table, err)
		}
		total = res.RowsAffected
		return nil
	}, opts...)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func validateIdentifiers(names ...string) error {
	for _, name := range names {
		err := validation.Validate(name,
			validation.Required,
			validation.Match(identPattern),
		)
		if err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidIdentifier, name, err)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unionKeys(records []sqlexec.Row) []string {
	seen := make(map[string]any)
	for _, rec := range records {
		for k := range rec {
			seen[k] = nil
		}
	}
	return sortedKeys(seen)
}

func checkColumns(records []sqlexec.Row, columns []string) error {
	listed := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		listed[col] = struct{}{}
	}
	for i, rec := range records {
		for _, k := range sortedKeys(rec) {
			if _, ok := listed[k]; !ok {
				return fmt.Errorf("%w: record %d has %q", ErrUnknownColumn, i, k)
			}
		}
	}
	return nil
}
