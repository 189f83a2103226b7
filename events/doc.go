// Package events provides the in-process event bus used to coordinate cache
// invalidation with data mutations.
//
// Listeners are invoked synchronously by Emit, in registration order, over a snapshot
// of the listener list taken when Emit starts. A listener that returns an error or
// panics is logged and skipped; the remaining listeners still run.
//
//	bus := events.NewBus(events.WithLogger(logger))
//	sub := bus.On(events.ExpenseAdded, func(ctx context.Context, args ...any) error {
//		return dashboard.Reload(ctx)
//	})
//	defer sub.Unsubscribe()
//
//	bus.Emit(ctx, events.ExpenseAdded, expenseID)
//
// The soft cap set by WithMaxListeners only produces a warning; registrations always
// succeed.
package events
