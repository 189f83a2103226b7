// Package query implements cached reads on top of cache.Manager.
//
// A result moves through three states after it is stored: fresh while younger than
// StaleTime, stale until TTL, then expired. Fresh results are returned as they are.
// Stale results are returned immediately and a refresh is scheduled in the
// background. Expired or missing results are fetched synchronously.
//
// Concurrent refreshes of the same key and result type share one execution.
//
// Basic usage:
//
//	client := query.NewClient(manager, executor)
//	rows, err := query.Load(ctx, client,
//		"SELECT * FROM expenses WHERE category_id = ?", []any{categoryID},
//		query.AllRows, query.Options[[]sqlexec.Row]{StaleTime: 10 * time.Second},
//	)
//
// Event driven invalidation:
//
//	stop := client.InvalidateOn(bus, "FROM expenses", events.ExpenseEvents()...)
//	defer stop()
package query
