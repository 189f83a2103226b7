// Package sqlkv persists cache entries in a SQL table through bun.
package sqlkv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/uptrace/bun"
)

var _ cache.Durable = (*Store)(nil)

// Record is a persisted cache entry row.
type Record struct {
	bun.BaseModel `bun:"table:query_cache_entries,alias:qce"`

	CacheKey string `bun:"cache_key,pk"`
	Payload  []byte `bun:"payload,notnull"`
}

// Store is a cache.Durable over the query_cache_entries table.
type Store struct {
	db bun.IDB
}

// New returns a Store over db. Call Init once to create the table.
func New(db bun.IDB) *Store {
	return &Store{db: db}
}

// Init creates the backing table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*Record)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlkv: create table: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	rec := new(Record)
	err := s.db.NewSelect().
		Model(rec).
		Where("cache_key = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlkv: get %q: %w", key, err)
	}
	return string(rec.Payload), true, nil
}

func (s *Store) Set(ctx context.Context, key, blob string) error {
	rec := &Record{CacheKey: key, Payload: []byte(blob)}
	_, err := s.db.NewInsert().
		Model(rec).
		On("CONFLICT (cache_key) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlkv: set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*Record)(nil)).
		Where("cache_key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlkv: remove %q: %w", key, err)
	}
	return nil
}

// Keys returns every persisted key in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0)
	err := s.db.NewSelect().
		Model((*Record)(nil)).
		Column("cache_key").
		Order("cache_key ASC").
		Scan(ctx, &keys)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlkv: keys: %w", err)
	}
	return keys, nil
}
