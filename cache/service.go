package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// KeySerializer builds a cache key from a query string and its bound parameters.
// Identical (query, params) pairs must always produce identical keys.
type KeySerializer interface {
	SerializeKey(query string, params ...any) string
}

// Store is the two-tier backend behind Manager. Implementations never surface durable
// tier failures: reads degrade to absent and writes to in-process only.
type Store interface {
	Read(ctx context.Context, key string) (Entry, bool)
	Write(ctx context.Context, entry Entry)
	Delete(ctx context.Context, key string)
	DeleteWhere(ctx context.Context, match func(key string) bool) int
	Clear(ctx context.Context)
	Keys(ctx context.Context) []string
	Len() int
}

// Durable is the persistent key-value store used as the second tier.
type Durable interface {
	Get(ctx context.Context, key string) (blob string, found bool, err error)
	Set(ctx context.Context, key string, blob string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Raw holds a msgpack encoded value promoted from the durable tier. It is decoded into
// the caller's type by As.
type Raw []byte

// FetchFn is the function signature used when reading through to the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// As converts a type-erased cached value into T, decoding Raw payloads on the way.
func As[T any](v any) (T, error) {
	var out T

	if raw, ok := v.(Raw); ok {
		if _, wantRaw := any(out).(Raw); !wantRaw {
			if err := msgpack.Unmarshal(raw, &out); err != nil {
				return out, fmt.Errorf("%w: decode %T: %v", ErrInvalidResultType, out, err)
			}
			return out, nil
		}
	}

	if v == nil {
		return out, nil
	}

	typed, ok := v.(T)
	if !ok {
		return out, fmt.Errorf("%w: got %T, want %T", ErrInvalidResultType, v, out)
	}
	return typed, nil
}

// GetAs is the type-safe counterpart of Manager.Get.
func GetAs[T any](ctx context.Context, m *Manager, key string) (T, bool, error) {
	v, ok := m.Get(ctx, key)
	if !ok {
		var zero T
		return zero, false, nil
	}
	out, err := As[T](v)
	if err != nil {
		return out, false, err
	}
	return out, true, nil
}

// GetOrFetch returns the cached value for key or calls fetchFn and stores its result
// with ttl. Fetch errors are returned unchanged and nothing is cached.
func GetOrFetch[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, fetchFn FetchFn[T]) (T, error) {
	if v, ok, err := GetAs[T](ctx, m, key); err == nil && ok {
		return v, nil
	}

	v, err := fetchFn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := m.Set(ctx, key, v, ttl); err != nil {
		return v, err
	}
	return v, nil
}
