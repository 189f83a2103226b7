// Package txn runs groups of statements atomically over a sqlexec.Executor.
//
// Transactions are driven with BEGIN, COMMIT and ROLLBACK statements on the executor
// itself, so the executor must pin a single connection. Runs on one Runner are
// serialized and nesting is rejected with ErrNestedTransaction.
//
//	runner := txn.NewRunner(exec, txn.WithBus(bus))
//	err := runner.Run(ctx, func(ctx context.Context, exec sqlexec.Executor) error {
//		_, err := exec.Execute(ctx, "UPDATE expenses SET amount = ? WHERE id = ?", 12.5, id)
//		return err
//	}, txn.Emit(events.ExpenseUpdated, id))
//
// Batch helpers wrap the same machinery for inserts, updates and deletes. Table and
// column names are validated before any statement is sent.
package txn
