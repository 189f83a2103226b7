// Package cache implements the two-tier result cache behind the query and
// repositorycache packages.
//
// # Entries
//
// A Manager stores values under string keys together with the instant they were
// stored and their TTL. Entries older than their TTL are reported as absent and
// removed in the background; the removal is skipped when a newer value was written to
// the same key in the meantime. Freshness classifies an entry as Fresh, Stale or
// Expired for callers that serve stale data while refreshing.
//
// # Tiers
//
// Tier 1 lives in process. Tier 2 is any Durable key-value store (memory, SQLite or
// Redis adapters live under kvstore). Writes go to both tiers; reads fall back to
// tier 2 and promote what they find. Values promoted from tier 2 arrive as Raw
// msgpack payloads and are decoded into the caller's type by As, GetAs or
// GetOrFetch. Tier 2 failures are logged and never returned to callers.
//
// # Keys
//
// DeriveKey builds a key from a query and its parameters:
//
//	key := cache.DeriveKey("SELECT * FROM expenses WHERE category_id = ?", 4)
//	// SELECT * FROM expenses WHERE category_id = ?:[4]
//
// Whitespace in the query is normalized and parameters are typed, so "4" and 4
// produce different keys. Functions and channels are keyed by identity, which is
// stable only for the lifetime of the process.
//
// # Usage
//
//	container, err := di.OpenSQLite(ctx, "app.db")
//	if err != nil {
//		return err
//	}
//	manager := container.Manager()
//
//	total, err := cache.GetOrFetch(ctx, manager, key, time.Minute, func(ctx context.Context) (float64, error) {
//		return sumExpenses(ctx)
//	})
//
//	manager.InvalidatePattern(ctx, "FROM expenses")
package cache
