package testsupport

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-query-cache/sqlexec"
)

var _ sqlexec.Executor = (*RecordingExecutor)(nil)

// Call is a single statement seen by a RecordingExecutor.
type Call struct {
	Method    string
	Statement string
	Params    []any
}

type stmtRule[T any] struct {
	match string
	value T
}

// RecordingExecutor is a scriptable sqlexec.Executor that records every statement.
// Statements are matched against rules by substring, first registered rule wins.
type RecordingExecutor struct {
	mu       sync.Mutex
	calls    []Call
	failures []stmtRule[error]
	rows     []stmtRule[[]sqlexec.Row]
	affected []stmtRule[int64]
	nextID   int64
}

// NewRecordingExecutor returns an executor that accepts every statement.
func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{}
}

// FailOn makes every statement containing match fail with err.
func (e *RecordingExecutor) FailOn(match string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, stmtRule[error]{match: match, value: err})
}

// SetRows makes reads containing match return rows.
func (e *RecordingExecutor) SetRows(match string, rows []sqlexec.Row) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows = append(e.rows, stmtRule[[]sqlexec.Row]{match: match, value: rows})
}

// SetRowsAffected makes mutations containing match report n affected rows. The default is 1.
func (e *RecordingExecutor) SetRowsAffected(match string, n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.affected = append(e.affected, stmtRule[int64]{match: match, value: n})
}

// Calls returns a copy of the recorded calls.
func (e *RecordingExecutor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Statements returns the recorded statements in order.
func (e *RecordingExecutor) Statements() []string {
	calls := e.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Statement
	}
	return out
}

// CallCount returns how many times method was called.
func (e *RecordingExecutor) CallCount(method string) int {
	n := 0
	for _, c := range e.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (e *RecordingExecutor) Execute(_ context.Context, stmt string, params ...any) (sqlexec.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("Execute", stmt, params)
	if err := e.failureFor(stmt); err != nil {
		return sqlexec.Result{}, err
	}

	affected := int64(1)
	if n, ok := lookup(e.affected, stmt); ok {
		affected = n
	}
	e.nextID++
	return sqlexec.Result{RowsAffected: affected, InsertedID: e.nextID, HasInsertedID: true}, nil
}

func (e *RecordingExecutor) QueryAll(_ context.Context, stmt string, params ...any) ([]sqlexec.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("QueryAll", stmt, params)
	if err := e.failureFor(stmt); err != nil {
		return nil, err
	}
	rows, _ := lookup(e.rows, stmt)
	return append([]sqlexec.Row{}, rows...), nil
}

func (e *RecordingExecutor) QueryOne(_ context.Context, stmt string, params ...any) (sqlexec.Row, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("QueryOne", stmt, params)
	if err := e.failureFor(stmt); err != nil {
		return nil, false, err
	}
	rows, _ := lookup(e.rows, stmt)
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (e *RecordingExecutor) RunRaw(_ context.Context, stmt string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("RunRaw", stmt, nil)
	return e.failureFor(stmt)
}

func (e *RecordingExecutor) record(method, stmt string, params []any) {
	e.calls = append(e.calls, Call{
		Method:    method,
		Statement: stmt,
		Params:    append([]any(nil), params...),
	})
}

func (e *RecordingExecutor) failureFor(stmt string) error {
	err, _ := lookup(e.failures, stmt)
	return err
}

func lookup[T any](rules []stmtRule[T], stmt string) (T, bool) {
	for _, r := range rules {
		if strings.Contains(stmt, r.match) {
			return r.value, true
		}
	}
	var zero T
	return zero, false
}
