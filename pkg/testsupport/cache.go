package testsupport

import (
	"testing"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/cacheinfra"
	"github.com/goliatone/go-query-cache/kvstore"
	"github.com/jonboulle/clockwork"
)

// Epoch is the start time of fake clocks built by NewCache.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// CacheFixture bundles a manager with the fake clock and durable store behind it.
type CacheFixture struct {
	Manager *cache.Manager
	Clock   clockwork.FakeClock
	Durable cache.Durable
	Config  cache.Config
}

// NewCache builds a manager over a tiered store backed by durable, or a fresh
// kvstore.Memory when durable is nil. The clock starts at Epoch.
func NewCache(t testing.TB, durable cache.Durable, opts ...cache.ManagerOption) *CacheFixture {
	t.Helper()

	if durable == nil {
		durable = kvstore.NewMemory()
	}
	clock := clockwork.NewFakeClockAt(Epoch)
	return NewCacheWithClock(t, durable, clock, opts...)
}

// NewCacheWithClock is NewCache with an explicit clock, used to simulate a restart
// over the same durable store.
func NewCacheWithClock(t testing.TB, durable cache.Durable, clock clockwork.FakeClock, opts ...cache.ManagerOption) *CacheFixture {
	t.Helper()

	cfg := cache.DefaultConfig()
	store, err := cacheinfra.NewTieredStore(cfg, durable)
	if err != nil {
		t.Fatalf("failed to build tiered store: %v", err)
	}

	all := append([]cache.ManagerOption{
		cache.WithClock(clock),
		cache.WithMaxTTL(cfg.Retention),
	}, opts...)

	m := cache.NewManager(store, all...)
	t.Cleanup(m.Wait)

	return &CacheFixture{
		Manager: m,
		Clock:   clock,
		Durable: durable,
		Config:  cfg,
	}
}
