package sqlkv

import (
	"context"
	"testing"

	"github.com/goliatone/go-query-cache/sqlexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := sqlexec.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Init(ctx), "Init must be idempotent")
	return s
}

func TestStore_SetGetOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, found, err := s.Get(ctx, "@query_cache:missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "@query_cache:a", "first"))
	require.NoError(t, s.Set(ctx, "@query_cache:a", "second"))

	blob, found, err := s.Get(ctx, "@query_cache:a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "second", blob)
}

func TestStore_BinaryPayload(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	payload := string([]byte{0x83, 0x00, 0xff, 0x10})
	require.NoError(t, s.Set(ctx, "bin", payload))

	blob, found, err := s.Get(ctx, "bin")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload, blob)
}

func TestStore_KeysAndRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Set(ctx, k, "v"))
	}

	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	require.NoError(t, s.Remove(ctx, "b"))
	require.NoError(t, s.Remove(ctx, "b"))

	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, keys)
}
