package cacheinfra

import (
	"context"
	"sort"
	"strings"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/telemetry"
	"github.com/viccon/sturdyc"
	"go.uber.org/zap"
)

// Interface assertion to ensure TieredStore implements cache.Store
var _ cache.Store = (*TieredStore)(nil)

// TieredStore keeps entries in a sturdyc client (tier 1) and mirrors them into a
// durable key-value store (tier 2). Tier 1 is authoritative for the process lifetime;
// tier 2 only exists so entries survive restarts, and its failures are logged and
// swallowed.
type TieredStore struct {
	memory  *sturdyc.Client[cache.Entry]
	durable cache.Durable
	prefix  string
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// Option configures a TieredStore.
type Option func(*TieredStore)

// WithLogger sets the logger used to report durable tier failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *TieredStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics counts durable tier failures.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(s *TieredStore) {
		s.metrics = metrics
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, Retention and EvictionPercentage are passed directly to
// sturdyc.New() and are not included in the options.
func ToSturdycOptions(cfg cache.Config) []sturdyc.Option {
	var options []sturdyc.Option
	if cfg.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(cfg.EvictionInterval))
	}
	return options
}

// NewTieredStore validates cfg and builds the store. A nil durable store yields an
// in-process only cache.
func NewTieredStore(cfg cache.Config, durable cache.Durable, opts ...Option) (*TieredStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &TieredStore{
		memory: sturdyc.New[cache.Entry](
			cfg.Capacity,
			cfg.NumShards,
			cfg.Retention,
			cfg.EvictionPercentage,
			ToSturdycOptions(cfg)...,
		),
		durable: durable,
		prefix:  cfg.KeyPrefix,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Read checks tier 1, then tier 2. A well-formed durable record is promoted into tier 1.
func (s *TieredStore) Read(ctx context.Context, key string) (cache.Entry, bool) {
	if entry, ok := s.memory.Get(key); ok {
		return entry, true
	}
	if s.durable == nil {
		return cache.Entry{}, false
	}

	blob, found, err := s.durable.Get(ctx, s.prefix+key)
	if err != nil {
		s.durableFailed("get", key, err)
		return cache.Entry{}, false
	}
	if !found {
		return cache.Entry{}, false
	}

	entry, err := DecodeEntry(key, blob)
	if err != nil {
		s.logger.Debug("ignoring malformed durable entry", zap.String("key", key), zap.Error(err))
		return cache.Entry{}, false
	}

	s.memory.Set(key, entry)
	return entry, true
}

// Write stores the entry in tier 1 and, best effort, in tier 2.
func (s *TieredStore) Write(ctx context.Context, entry cache.Entry) {
	s.memory.Set(entry.Key, entry)
	if s.durable == nil {
		return
	}

	blob, err := EncodeEntry(entry)
	if err != nil {
		s.durableFailed("encode", entry.Key, err)
		s.removeDurable(ctx, entry.Key)
		return
	}
	if err := s.durable.Set(ctx, s.prefix+entry.Key, blob); err != nil {
		s.durableFailed("set", entry.Key, err)
	}
}

// Delete removes key from both tiers.
func (s *TieredStore) Delete(ctx context.Context, key string) {
	s.memory.Delete(key)
	s.removeDurable(ctx, key)
}

// DeleteWhere removes every key accepted by match from both tiers and returns the number
// of distinct keys removed. Tier 1 is swept first so a durable failure cannot leave a
// matching in-process entry behind.
func (s *TieredStore) DeleteWhere(ctx context.Context, match func(key string) bool) int {
	removed := make(map[string]struct{})

	for _, key := range s.memory.ScanKeys() {
		if match(key) {
			s.memory.Delete(key)
			removed[key] = struct{}{}
		}
	}

	for _, key := range s.durableKeys(ctx) {
		if !match(key) {
			continue
		}
		if err := s.durable.Remove(ctx, s.prefix+key); err != nil {
			s.durableFailed("remove", key, err)
			continue
		}
		removed[key] = struct{}{}
	}

	return len(removed)
}

// Clear empties both tiers. Durable keys outside the configured prefix are left alone.
func (s *TieredStore) Clear(ctx context.Context) {
	s.DeleteWhere(ctx, func(string) bool { return true })
}

// Keys returns the sorted union of keys held by both tiers.
func (s *TieredStore) Keys(ctx context.Context) []string {
	seen := make(map[string]struct{})
	for _, key := range s.memory.ScanKeys() {
		seen[key] = struct{}{}
	}
	for _, key := range s.durableKeys(ctx) {
		seen[key] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries in tier 1.
func (s *TieredStore) Len() int {
	return s.memory.Size()
}

// durableKeys lists tier 2 keys carrying the prefix, with the prefix stripped.
func (s *TieredStore) durableKeys(ctx context.Context) []string {
	if s.durable == nil {
		return nil
	}

	all, err := s.durable.Keys(ctx)
	if err != nil {
		s.durableFailed("keys", "", err)
		return nil
	}

	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, s.prefix) {
			keys = append(keys, strings.TrimPrefix(k, s.prefix))
		}
	}
	return keys
}

func (s *TieredStore) removeDurable(ctx context.Context, key string) {
	if s.durable == nil {
		return
	}
	if err := s.durable.Remove(ctx, s.prefix+key); err != nil {
		s.durableFailed("remove", key, err)
	}
}

func (s *TieredStore) durableFailed(op, key string, err error) {
	s.metrics.DurableError(op)
	s.logger.Warn("durable cache tier failure",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}
