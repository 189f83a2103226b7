// Package rediskv persists cache entries in Redis.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/redis/go-redis/v9"
)

var _ cache.Durable = (*Store)(nil)

// DefaultScanCount is the SCAN batch hint used by Keys.
const DefaultScanCount = 100

// Store is a cache.Durable over a Redis client. Entries are written without a Redis
// expiry; the cache layer owns expiry and evicts lazily.
type Store struct {
	client    redis.UniversalClient
	match     string
	scanCount int64
}

// Option configures a Store.
type Option func(*Store)

// WithMatch restricts Keys to keys matching a SCAN pattern, e.g. "@query_cache:*".
func WithMatch(pattern string) Option {
	return func(s *Store) {
		if pattern != "" {
			s.match = pattern
		}
	}
}

// WithScanCount sets the SCAN batch hint.
func WithScanCount(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.scanCount = n
		}
	}
}

// New returns a Store over client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		match:     "*",
		scanCount: DefaultScanCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key, blob string) error {
	if err := s.client.Set(ctx, key, blob, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Keys walks the keyspace with SCAN and returns the matching keys sorted.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	iter := s.client.Scan(ctx, 0, s.match, s.scanCount).Iterator()
	for iter.Next(ctx) {
		seen[iter.Val()] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", s.match, err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
