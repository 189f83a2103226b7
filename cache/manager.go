package cache

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-query-cache/internal/background"
	"github.com/goliatone/go-query-cache/internal/telemetry"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Manager owns the TTL policy on top of a Store: it stamps entries on write, refuses
// expired entries on read and evicts them lazily. There is no background sweep.
type Manager struct {
	store   Store
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *telemetry.Metrics
	maxTTL  time.Duration

	evictions background.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the logger used for eviction diagnostics.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics enables hit/miss/expiry counters.
func WithMetrics(metrics *telemetry.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithMaxTTL bounds the TTL accepted by Set. It should match the retention of the
// in-process tier; zero disables the bound.
func WithMaxTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.maxTTL = d
	}
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Clock returns the clock used to stamp and age entries.
func (m *Manager) Clock() clockwork.Clock {
	return m.clock
}

// Get returns the cached value for key, or false when absent or expired.
func (m *Manager) Get(ctx context.Context, key string) (any, bool) {
	entry, ok := m.Lookup(ctx, key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Lookup is Get returning the whole entry so callers can reason about its freshness.
// Expired entries are reported absent and scheduled for eviction.
func (m *Manager) Lookup(ctx context.Context, key string) (Entry, bool) {
	entry, ok := m.store.Read(ctx, key)
	if !ok {
		m.metrics.Miss()
		return Entry{}, false
	}

	if entry.Expired(m.clock.Now()) {
		m.metrics.Expired()
		m.metrics.Miss()
		m.evict(ctx, key, entry.StoredAt)
		return Entry{}, false
	}

	m.metrics.Hit()
	return entry, true
}

// evict removes an expired entry in the background. The entry is only deleted if it
// still carries the same StoredAt, so a Set racing the eviction survives.
func (m *Manager) evict(ctx context.Context, key string, storedAt time.Time) {
	ctx = context.WithoutCancel(ctx)

	// after Close the entry stays until the next read or write
	m.evictions.Go(func() {
		current, ok := m.store.Read(ctx, key)
		if !ok || !current.StoredAt.Equal(storedAt) {
			return
		}
		m.store.Delete(ctx, key)
		m.logger.Debug("evicted expired cache entry", zap.String("key", key))
	})
}

// Set stores value under key for ttl.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if ttl <= 0 || (m.maxTTL > 0 && ttl > m.maxTTL) {
		return ErrInvalidTTL
	}

	m.store.Write(ctx, Entry{
		Key:      key,
		Value:    value,
		StoredAt: m.clock.Now(),
		TTL:      ttl,
	})
	m.metrics.Set()
	return nil
}

// Remove deletes key. Removing an absent key is a no-op.
func (m *Manager) Remove(ctx context.Context, key string) {
	m.store.Delete(ctx, key)
}

// Clear drops every entry from both tiers.
func (m *Manager) Clear(ctx context.Context) {
	m.store.Clear(ctx)
}

// InvalidatePattern removes every entry whose key contains pattern and returns how many
// were removed. Matching is plain substring containment. An empty pattern matches
// nothing; use Clear to drop everything.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) int {
	if pattern == "" {
		return 0
	}

	n := m.store.DeleteWhere(ctx, func(key string) bool {
		return strings.Contains(key, pattern)
	})
	m.metrics.Invalidated(n)
	m.logger.Debug("invalidated cache pattern", zap.String("pattern", pattern), zap.Int("removed", n))
	return n
}

// Keys lists the keys known to either tier.
func (m *Manager) Keys(ctx context.Context) []string {
	return m.store.Keys(ctx)
}

// Len returns the number of entries held in process.
func (m *Manager) Len() int {
	return m.store.Len()
}

// Wait blocks until every pending lazy eviction has finished. It may be called while
// reads are still in flight.
func (m *Manager) Wait() {
	m.evictions.Wait()
}

// Close waits for pending evictions and stops scheduling new ones. Reads keep working.
func (m *Manager) Close() {
	m.evictions.Close()
}
