package query

import (
	"context"
	"reflect"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/events"
	"github.com/goliatone/go-query-cache/sqlexec"
	"go.uber.org/zap"
)

// Fetcher runs query against exec and shapes the result.
type Fetcher[T any] func(ctx context.Context, exec sqlexec.Executor, query string, params []any) (T, error)

// Options controls caching for one query. Zero TTL and StaleTime fall back to the
// client defaults.
type Options[T any] struct {
	Disabled  bool
	TTL       time.Duration
	StaleTime time.Duration
	OnSuccess func(T)
	OnError   func(error)
}

// Query is a cached, parameterized read.
type Query[T any] struct {
	client    *Client
	query     string
	params    []any
	fetch     Fetcher[T]
	opts      Options[T]
	key       string
	flightKey string
}

// New binds query and params to client. The cache key is derived once.
func New[T any](client *Client, query string, params []any, fetch Fetcher[T], opts Options[T]) *Query[T] {
	if opts.TTL == 0 {
		opts.TTL = client.defaultTTL
	}
	if opts.StaleTime == 0 {
		opts.StaleTime = min(client.defaultStaleTime, opts.TTL)
	}

	key := client.Key(query, params...)
	return &Query[T]{
		client:    client,
		query:     query,
		params:    params,
		fetch:     fetch,
		opts:      opts,
		key:       key,
		flightKey: key + "\x00" + reflect.TypeFor[T]().String(),
	}
}

// Load is a one-shot New(...).Load(ctx).
func Load[T any](ctx context.Context, client *Client, query string, params []any, fetch Fetcher[T], opts Options[T]) (T, error) {
	return New(client, query, params, fetch, opts).Load(ctx)
}

// Key returns the cache key of the query.
func (q *Query[T]) Key() string {
	return q.key
}

// Load returns the cached result when present. A stale result is returned immediately
// and refreshed in the background; a miss runs the query synchronously.
func (q *Query[T]) Load(ctx context.Context) (T, error) {
	var zero T
	if err := q.validate(); err != nil {
		return zero, err
	}

	if entry, ok := q.client.manager.Lookup(ctx, q.key); ok {
		v, err := cache.As[T](entry.Value)
		if err == nil {
			now := q.client.manager.Clock().Now()
			if entry.Freshness(now, q.opts.StaleTime) != cache.Fresh {
				q.client.metrics.Stale()
				q.refreshInBackground(ctx)
			}
			return v, nil
		}
		q.client.logger.Debug("cached query result has unexpected type, refetching",
			zap.String("key", q.key),
			zap.Error(err),
		)
	}

	return q.refresh(ctx)
}

// Refetch runs the query now, bypassing any cached result.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	var zero T
	if err := q.validate(); err != nil {
		return zero, err
	}
	return q.refresh(ctx)
}

// Invalidate drops the cached result. Invalidating an absent key is a no-op.
func (q *Query[T]) Invalidate(ctx context.Context) {
	q.client.manager.Remove(ctx, q.key)
}

// RefreshOn refetches the query whenever one of the events is emitted. The returned
// function unsubscribes.
func (q *Query[T]) RefreshOn(bus *events.Bus, names ...string) func() {
	return subscribeAll(bus, names, func(ctx context.Context, _ ...any) error {
		_, err := q.Refetch(ctx)
		return err
	})
}

func (q *Query[T]) validate() error {
	if q.opts.Disabled {
		return ErrDisabled
	}
	if q.opts.TTL < 0 || q.opts.StaleTime < 0 || q.opts.StaleTime > q.opts.TTL {
		return ErrInvalidOptions
	}
	return nil
}

func (q *Query[T]) refreshInBackground(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	scheduled := q.client.background(func() {
		if _, err := q.refresh(ctx); err != nil {
			q.client.logger.Error("background query refresh failed",
				zap.String("key", q.key),
				zap.Error(err),
			)
		}
	})
	if !scheduled {
		q.client.logger.Debug("client closed, skipping background refresh", zap.String("key", q.key))
		return
	}
	q.client.logger.Debug("scheduled background query refresh", zap.String("key", q.key))
}

// refresh runs the query, at most once at a time per key and result type, and stores
// the result. Failures leave the cache untouched.
func (q *Query[T]) refresh(ctx context.Context) (T, error) {
	var zero T

	v, err, _ := q.client.flights.Do(q.flightKey, func() (any, error) {
		q.client.metrics.Refresh()

		result, err := q.fetch(ctx, q.client.exec, q.query, q.params)
		if err != nil {
			return nil, err
		}
		if err := q.client.manager.Set(ctx, q.key, result, q.opts.TTL); err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		q.client.metrics.RefreshError()
		if q.opts.OnError != nil {
			q.opts.OnError(err)
		}
		return zero, err
	}

	result, _ := v.(T)
	if q.opts.OnSuccess != nil {
		q.opts.OnSuccess(result)
	}
	return result, nil
}
