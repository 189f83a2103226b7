// Package repositorycache decorates go-repository-bun repositories with read-through
// caching on a cache.Manager.
//
// # Reads
//
// Get, GetByID, GetByIdentifier, List and Count are cached. Keys have the form
//
//	<namespace>.<Method>:[args...]
//
// where namespace defaults to the snake_case name of the record type (Expense becomes
// "expense", PaymentMethod becomes "payment_method"). Select criteria are part of the
// key. By default they are keyed by function identity; pass WithCriteriaRenderer to
// key them by the SQL they produce instead, which is required when criteria are
// closures over request values.
//
// Transactional reads (the *Tx methods) and Raw queries are never cached.
//
// # Writes
//
// A successful write removes every key in the repository namespace. Queries cached
// outside the repository, for example reports built with the query package, can be
// dropped in the same step by attaching patterns to the context:
//
//	ctx = repositorycache.WithInvalidationPatterns(ctx, "FROM expenses")
//	_, err := expenses.Create(ctx, expense)
//
// With WithEvents, non-transactional writes publish the configured domain events
// after invalidation. Transactional writes invalidate but publish nothing; use the
// txn package's Emit option to publish once the transaction commits.
//
// # Usage
//
//	base := repository.NewRepository[Expense](db, handlers)
//	expenses := repositorycache.New[Expense](base, manager,
//		repositorycache.WithTTL(10*time.Minute),
//		repositorycache.WithCriteriaRenderer(db),
//		repositorycache.WithEvents(bus, repositorycache.Events{
//			Created: events.ExpenseAdded,
//			Updated: events.ExpenseUpdated,
//			Deleted: events.ExpenseDeleted,
//		}),
//	)
package repositorycache
