package testsupport

import (
	"context"
	"sync"

	"github.com/goliatone/go-query-cache/cache"
)

// Durable operations that can be made to fail.
const (
	OpGet    = "get"
	OpSet    = "set"
	OpRemove = "remove"
	OpKeys   = "keys"
)

var _ cache.Durable = (*FaultyDurable)(nil)

// FaultyDurable wraps a cache.Durable and fails selected operations on demand.
type FaultyDurable struct {
	inner cache.Durable

	mu    sync.Mutex
	fails map[string]error
	calls map[string]int
}

// NewFaultyDurable wraps inner. Every operation passes through until Fail is called.
func NewFaultyDurable(inner cache.Durable) *FaultyDurable {
	return &FaultyDurable{
		inner: inner,
		fails: make(map[string]error),
		calls: make(map[string]int),
	}
}

// Fail makes op return err until Heal is called.
func (d *FaultyDurable) Fail(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fails[op] = err
}

// Heal clears every injected failure.
func (d *FaultyDurable) Heal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fails = make(map[string]error)
}

// Calls reports how many times op was attempted, failed attempts included.
func (d *FaultyDurable) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *FaultyDurable) attempt(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[op]++
	return d.fails[op]
}

func (d *FaultyDurable) Get(ctx context.Context, key string) (string, bool, error) {
	if err := d.attempt(OpGet); err != nil {
		return "", false, err
	}
	return d.inner.Get(ctx, key)
}

func (d *FaultyDurable) Set(ctx context.Context, key, blob string) error {
	if err := d.attempt(OpSet); err != nil {
		return err
	}
	return d.inner.Set(ctx, key, blob)
}

func (d *FaultyDurable) Remove(ctx context.Context, key string) error {
	if err := d.attempt(OpRemove); err != nil {
		return err
	}
	return d.inner.Remove(ctx, key)
}

func (d *FaultyDurable) Keys(ctx context.Context) ([]string, error) {
	if err := d.attempt(OpKeys); err != nil {
		return nil, err
	}
	return d.inner.Keys(ctx)
}
