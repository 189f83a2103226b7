package query_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/events"
	"github.com/goliatone/go-query-cache/internal/telemetry"
	"github.com/goliatone/go-query-cache/kvstore"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
	"github.com/goliatone/go-query-cache/query"
	"github.com/goliatone/go-query-cache/sqlexec"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const totalQuery = "SELECT COUNT(*) AS total FROM expenses"

// counter is a fetcher returning how many times it ran.
type counter struct {
	calls atomic.Int32
	err   atomic.Pointer[error]
}

func (c *counter) fetch(ctx context.Context, _ sqlexec.Executor, _ string, _ []any) (int, error) {
	n := int(c.calls.Add(1))
	if errp := c.err.Load(); errp != nil {
		return 0, *errp
	}
	return n, nil
}

func (c *counter) failWith(err error) {
	c.err.Store(&err)
}

func newClient(t *testing.T, opts ...query.ClientOption) (*query.Client, *testsupport.CacheFixture) {
	t.Helper()
	fx := testsupport.NewCache(t, nil)
	client := query.NewClient(fx.Manager, testsupport.NewRecordingExecutor(), opts...)
	t.Cleanup(client.Wait)
	return client, fx
}

func TestQuery_MissFetchesAndCaches(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	c := &counter{}

	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{})

	v, err := q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, int32(1), c.calls.Load())

	cached, ok := client.Manager().Get(ctx, q.Key())
	require.True(t, ok)
	assert.Equal(t, 1, cached)
}

func TestQuery_StalenessTriggersOneBackgroundRefresh(t *testing.T) {
	ctx := context.Background()
	client, fx := newClient(t)
	c := &counter{}

	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{
		TTL:       300 * time.Second,
		StaleTime: 30 * time.Second,
	})

	_, err := q.Load(ctx)
	require.NoError(t, err)

	// t=20s: fresh, no refresh
	fx.Clock.Advance(20 * time.Second)
	v, err := q.Load(ctx)
	require.NoError(t, err)
	client.Wait()
	assert.Equal(t, 1, v)
	assert.Equal(t, int32(1), c.calls.Load())

	// t=40s: stale, cached value served and exactly one refresh scheduled
	fx.Clock.Advance(20 * time.Second)
	v, err = q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "stale value is returned immediately")
	client.Wait()
	assert.Equal(t, int32(2), c.calls.Load())

	v, err = q.Load(ctx)
	require.NoError(t, err)
	client.Wait()
	assert.Equal(t, 2, v, "refreshed value is fresh again")
	assert.Equal(t, int32(2), c.calls.Load())
}

func TestQuery_ExpiredFetchesSynchronously(t *testing.T) {
	ctx := context.Background()
	client, fx := newClient(t)
	c := &counter{}

	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{TTL: time.Minute, StaleTime: 10 * time.Second})

	_, err := q.Load(ctx)
	require.NoError(t, err)

	fx.Clock.Advance(2 * time.Minute)
	v, err := q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestQuery_MissErrorPropagates(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	c := &counter{}
	boom := errors.New("database is locked")
	c.failWith(boom)

	var hookErr error
	successCalled := false
	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{
		OnError:   func(err error) { hookErr = err },
		OnSuccess: func(int) { successCalled = true },
	})

	_, err := q.Load(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, hookErr, boom)
	assert.False(t, successCalled)

	_, ok := client.Manager().Get(ctx, q.Key())
	assert.False(t, ok, "failed refresh must not populate the cache")
}

func TestQuery_BackgroundErrorKeepsStaleValue(t *testing.T) {
	ctx := context.Background()
	client, fx := newClient(t)
	c := &counter{}

	var mu sync.Mutex
	var hookErrs []error
	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{
		TTL:       time.Minute,
		StaleTime: 10 * time.Second,
		OnError: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			hookErrs = append(hookErrs, err)
		},
	})

	_, err := q.Load(ctx)
	require.NoError(t, err)

	boom := errors.New("refresh failed")
	c.failWith(boom)
	fx.Clock.Advance(20 * time.Second)

	v, err := q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	client.Wait()

	mu.Lock()
	require.Len(t, hookErrs, 1)
	assert.ErrorIs(t, hookErrs[0], boom)
	mu.Unlock()

	cached, ok := client.Manager().Get(ctx, q.Key())
	require.True(t, ok)
	assert.Equal(t, 1, cached, "stale value survives a failed refresh")
}

func TestQuery_SuccessHook(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	c := &counter{}

	var got []int
	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{
		OnSuccess: func(v int) { got = append(got, v) },
	})

	_, err := q.Load(ctx)
	require.NoError(t, err)
	_, err = q.Load(ctx)
	require.NoError(t, err)
	_, err = q.Refetch(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, got, "hook runs per refresh, not per cache hit")
}

func TestQuery_Disabled(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	c := &counter{}

	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{Disabled: true})

	_, err := q.Load(ctx)
	assert.ErrorIs(t, err, query.ErrDisabled)
	_, err = q.Refetch(ctx)
	assert.ErrorIs(t, err, query.ErrDisabled)
	assert.Equal(t, int32(0), c.calls.Load())
}

func TestQuery_InvalidOptions(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	c := &counter{}

	tests := []struct {
		name string
		opts query.Options[int]
		want error
	}{
		{name: "stale beyond ttl", opts: query.Options[int]{TTL: time.Second, StaleTime: time.Minute}, want: query.ErrInvalidOptions},
		{name: "negative ttl", opts: query.Options[int]{TTL: -time.Second}, want: query.ErrInvalidOptions},
		{name: "ttl beyond retention", opts: query.Options[int]{TTL: 48 * time.Hour}, want: cache.ErrInvalidTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.Load(ctx, client, totalQuery, nil, c.fetch, tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestQuery_InvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	c := &counter{}

	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{})
	_, err := q.Load(ctx)
	require.NoError(t, err)

	q.Invalidate(ctx)
	q.Invalidate(ctx)

	v, err := q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestQuery_ConcurrentRefreshesShareOneFetch(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context, _ sqlexec.Executor, _ string, _ []any) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return 42, nil
	}

	q := query.New(client, totalQuery, nil, fetch, query.Options[int]{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := q.Refetch(ctx)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestQuery_SameKeyDifferentTypesDoNotShareFlights(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)

	asInt := query.New(client, totalQuery, nil, func(context.Context, sqlexec.Executor, string, []any) (int, error) {
		return 1, nil
	}, query.Options[int]{})
	asString := query.New(client, totalQuery, nil, func(context.Context, sqlexec.Executor, string, []any) (string, error) {
		return "one", nil
	}, query.Options[string]{})

	require.Equal(t, asInt.Key(), asString.Key())

	_, err := asInt.Load(ctx)
	require.NoError(t, err)

	s, err := asString.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", s, "a cached value of another type is refetched")
}

func TestQuery_RefreshOn(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	bus := events.NewBus()
	c := &counter{}

	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{})
	_, err := q.Load(ctx)
	require.NoError(t, err)

	stop := q.RefreshOn(bus, events.ExpenseEvents()...)
	bus.Emit(ctx, events.ExpenseAdded)
	bus.Emit(ctx, events.ExpenseDeleted)

	v, err := q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	stop()
	bus.Emit(ctx, events.ExpenseAdded)
	assert.Equal(t, int32(3), c.calls.Load())
	assert.Empty(t, bus.EventNames())
}

func TestClient_InvalidateOn(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	bus := events.NewBus()

	expenses := &counter{}
	categories := &counter{}
	qe := query.New(client, "SELECT * FROM expenses WHERE month = ?", []any{"2024-03"}, expenses.fetch, query.Options[int]{})
	qc := query.New(client, "SELECT * FROM categories", nil, categories.fetch, query.Options[int]{})

	for _, load := range []func(context.Context) (int, error){qe.Load, qc.Load} {
		_, err := load(ctx)
		require.NoError(t, err)
	}

	stop := client.InvalidateOn(bus, "FROM expenses", events.ExpenseAdded, events.ExpenseUpdated)
	defer stop()

	bus.Emit(ctx, events.ExpenseUpdated)

	_, ok := client.Manager().Get(ctx, qe.Key())
	assert.False(t, ok)
	_, ok = client.Manager().Get(ctx, qc.Key())
	assert.True(t, ok)

	v, err := qe.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestQuery_ResultSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	durable := kvstore.NewMemory()
	exec := testsupport.NewRecordingExecutor()
	exec.SetRows("FROM categories", []sqlexec.Row{{"name": "Groceries"}, {"name": "Transport"}})

	first := testsupport.NewCache(t, durable)
	c1 := query.NewClient(first.Manager, exec)
	rows, err := query.Load(ctx, c1, "SELECT name FROM categories", nil, query.AllRows, query.Options[[]sqlexec.Row]{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	second := testsupport.NewCacheWithClock(t, durable, first.Clock)
	c2 := query.NewClient(second.Manager, exec)
	rows, err = query.Load(ctx, c2, "SELECT name FROM categories", nil, query.AllRows, query.Options[[]sqlexec.Row]{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Transport", rows[1]["name"])

	assert.Equal(t, 1, exec.CallCount("QueryAll"), "second process served from the durable tier")
}

func TestQuery_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics, err := telemetry.NewMetrics(nil)
	require.NoError(t, err)

	client, fx := newClient(t, query.WithMetrics(metrics))
	c := &counter{}
	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{TTL: time.Minute, StaleTime: time.Second})

	_, err = q.Load(ctx)
	require.NoError(t, err)
	fx.Clock.Advance(2 * time.Second)
	_, err = q.Load(ctx)
	require.NoError(t, err)
	client.Wait()

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Refreshes))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StaleServed))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RefreshErrors))
}

func TestClient_Defaults(t *testing.T) {
	ctx := context.Background()
	client, fx := newClient(t, query.WithDefaults(time.Minute, 0))
	c := &counter{}

	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{})
	_, err := q.Load(ctx)
	require.NoError(t, err)

	fx.Clock.Advance(59 * time.Second)
	_, err = q.Load(ctx)
	require.NoError(t, err)
	client.Wait()
	assert.Equal(t, int32(1), c.calls.Load())

	fx.Clock.Advance(time.Second)
	_, err = q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.calls.Load())
}

func TestQuery_ShortTTLClampsDefaultStaleTime(t *testing.T) {
	ctx := context.Background()
	client, fx := newClient(t)
	c := &counter{}

	// the client default stale time (30s) is longer than this ttl
	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{TTL: 10 * time.Second})

	v, err := q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	fx.Clock.Advance(9 * time.Second)
	v, err = q.Load(ctx)
	require.NoError(t, err)
	client.Wait()
	assert.Equal(t, 1, v)
	assert.Equal(t, int32(1), c.calls.Load(), "never stale, only expired")

	fx.Clock.Advance(time.Second)
	v, err = q.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestClient_CloseStopsBackgroundRefreshes(t *testing.T) {
	ctx := context.Background()
	client, fx := newClient(t)
	c := &counter{}

	q := query.New(client, totalQuery, nil, c.fetch, query.Options[int]{
		TTL:       time.Minute,
		StaleTime: 10 * time.Second,
	})
	_, err := q.Load(ctx)
	require.NoError(t, err)
	fx.Clock.Advance(20 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Load(ctx)
		}()
	}
	client.Close()
	wg.Wait()

	// stale again whether or not a refresh ran before Close
	fx.Clock.Advance(20 * time.Second)
	before := c.calls.Load()
	v, err := q.Load(ctx)
	require.NoError(t, err)
	client.Wait()
	assert.Equal(t, before, c.calls.Load(), "no refresh is scheduled after Close")
	assert.GreaterOrEqual(t, v, 1)
}
