package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-query-cache/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedBus(level zapcore.Level, opts ...Option) (*Bus, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewBus(append([]Option{WithLogger(zap.New(core))}, opts...)...), logs
}

func TestBus_EmitInRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		bus.On("x", func(ctx context.Context, args ...any) error {
			order = append(order, name)
			return nil
		})
	}

	assert.Equal(t, 3, bus.Emit(ctx, "x"))
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, bus.Emit(ctx, "unknown"))
}

func TestBus_PassesArguments(t *testing.T) {
	bus := NewBus()

	var got []any
	bus.On(ExpenseAdded, func(ctx context.Context, args ...any) error {
		got = args
		return nil
	})

	bus.Emit(context.Background(), ExpenseAdded, int64(7), "lunch")
	assert.Equal(t, []any{int64(7), "lunch"}, got)
}

func TestBus_ListenerIsolation(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)

	bus, logs := newObservedBus(zap.ErrorLevel, WithMetrics(metrics))

	var first, third atomic.Int32
	bus.On("x", func(ctx context.Context, args ...any) error {
		first.Add(1)
		return nil
	})
	bus.On("x", func(ctx context.Context, args ...any) error {
		return errors.New("listener failed")
	})
	bus.On("x", func(ctx context.Context, args ...any) error {
		third.Add(1)
		return nil
	})

	assert.Equal(t, 3, bus.Emit(ctx, "x"))
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), third.Load())

	entries := logs.FilterMessage("event listener failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].ContextMap()["event"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ListenerErrors.WithLabelValues("x")))
}

func TestBus_PanickingListenerIsRecovered(t *testing.T) {
	bus, logs := newObservedBus(zap.ErrorLevel)

	called := false
	bus.On("x", func(ctx context.Context, args ...any) error {
		panic("boom")
	})
	bus.On("x", func(ctx context.Context, args ...any) error {
		called = true
		return nil
	})

	assert.NotPanics(t, func() { bus.Emit(context.Background(), "x") })
	assert.True(t, called)
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].ContextMap()["error"], "listener panicked")
}

func TestBus_Once(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	calls := 0
	bus.Once("x", func(ctx context.Context, args ...any) error {
		calls++
		return nil
	})

	bus.Emit(ctx, "x")
	bus.Emit(ctx, "x")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.ListenerCount("x"))
	assert.Empty(t, bus.EventNames())
}

func TestBus_OnceReentrantEmit(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	calls := 0
	bus.Once("x", func(ctx context.Context, args ...any) error {
		calls++
		bus.Emit(ctx, "x")
		return nil
	})

	bus.Emit(ctx, "x")
	assert.Equal(t, 1, calls)
}

func TestBus_OnceConcurrentEmits(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	var calls atomic.Int32
	bus.Once("x", func(ctx context.Context, args ...any) error {
		calls.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(ctx, "x")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestBus_SnapshotSemantics(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	var order []string
	var second Subscription

	bus.On("x", func(ctx context.Context, args ...any) error {
		order = append(order, "first")
		second.Unsubscribe()
		bus.On("x", func(ctx context.Context, args ...any) error {
			order = append(order, "late")
			return nil
		})
		return nil
	})
	second = bus.On("x", func(ctx context.Context, args ...any) error {
		order = append(order, "second")
		return nil
	})

	assert.Equal(t, 2, bus.Emit(ctx, "x"))
	assert.Equal(t, []string{"first", "second"}, order, "removal and registration apply to the next emit")

	order = nil
	bus.Emit(ctx, "x")
	assert.Equal(t, []string{"first", "late"}, order)
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	noop := func(ctx context.Context, args ...any) error { return nil }

	sub := bus.On("x", noop)
	other := bus.On("x", noop)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 1, bus.ListenerCount("x"))

	assert.True(t, bus.Off("x", other.ID))
	assert.False(t, bus.Off("x", other.ID))
	assert.False(t, bus.Off("missing", other.ID))

	assert.Equal(t, 0, bus.ListenerCount("x"))
	assert.Empty(t, bus.EventNames(), "empty listener lists are dropped")

	var zero Subscription
	assert.NotPanics(t, zero.Unsubscribe)
}

func TestBus_MaxListenersWarning(t *testing.T) {
	noop := func(ctx context.Context, args ...any) error { return nil }

	t.Run("default cap", func(t *testing.T) {
		bus, logs := newObservedBus(zap.WarnLevel)
		for i := 0; i < DefaultMaxListeners; i++ {
			bus.On("x", noop)
		}
		assert.Equal(t, 0, logs.Len())

		bus.On("x", noop)
		entries := logs.FilterMessage("possible event listener leak").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "x", entries[0].ContextMap()["event"])
		assert.EqualValues(t, DefaultMaxListeners+1, entries[0].ContextMap()["listeners"])
		assert.Equal(t, DefaultMaxListeners+1, bus.ListenerCount("x"), "registration still succeeds")
	})

	t.Run("custom cap", func(t *testing.T) {
		bus, logs := newObservedBus(zap.WarnLevel, WithMaxListeners(2))
		bus.On("x", noop)
		bus.On("x", noop)
		bus.On("x", noop)
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("unlimited", func(t *testing.T) {
		bus, logs := newObservedBus(zap.WarnLevel, WithMaxListeners(0))
		for i := 0; i < 50; i++ {
			bus.On("x", noop)
		}
		assert.Equal(t, 0, logs.Len())
	})
}

func TestBus_RemoveAllListeners(t *testing.T) {
	bus := NewBus()
	noop := func(ctx context.Context, args ...any) error { return nil }

	bus.On("a", noop)
	bus.On("b", noop)
	bus.On("c", noop)
	assert.Equal(t, []string{"a", "b", "c"}, bus.EventNames())

	bus.RemoveAllListeners("a", "missing")
	assert.Equal(t, []string{"b", "c"}, bus.EventNames())

	bus.RemoveAllListeners()
	assert.Empty(t, bus.EventNames())
	assert.Equal(t, 0, bus.Emit(context.Background(), "b"))
}

func TestDomainEvents(t *testing.T) {
	all := DomainEvents()
	assert.Len(t, all, 7)
	for _, e := range all {
		assert.True(t, IsDomainEvent(e), e)
	}
	assert.False(t, IsDomainEvent("expense.exploded"))

	all[0] = "mutated"
	assert.Equal(t, ExpenseAdded, DomainEvents()[0], "returned slice is a copy")
	assert.Subset(t, DomainEvents(), ExpenseEvents())
}
