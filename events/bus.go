package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync/atomic"

	"github.com/goliatone/go-query-cache/internal/telemetry"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// DefaultMaxListeners is the per event listener count above which registrations log a
// warning. It is a leak signal, not a limit.
const DefaultMaxListeners = 10

// ErrListenerPanic wraps a value recovered from a panicking listener.
var ErrListenerPanic = errors.New("events: listener panicked")

// Handler receives the arguments passed to Emit. A returned error is logged and does
// not stop delivery to the remaining listeners.
type Handler func(ctx context.Context, args ...any) error

// ListenerID identifies one registration.
type ListenerID string

type listener struct {
	id      ListenerID
	handler Handler
	once    bool
	fired   atomic.Bool
}

// Subscription is returned by On and Once.
type Subscription struct {
	ID    ListenerID
	Event string
	bus   *Bus
}

// Unsubscribe removes the registration. Calling it more than once is a no-op.
func (s Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.Off(s.Event, s.ID)
	}
}

// Bus is an in-process publish/subscribe registry. Listener lists are replaced, never
// mutated, so Emit iterates a snapshot that concurrent registrations cannot disturb.
type Bus struct {
	listeners    *xsync.MapOf[string, []*listener]
	maxListeners atomic.Int64
	logger       *zap.Logger
	metrics      *telemetry.Metrics
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxListeners sets the soft cap. Zero disables the warning.
func WithMaxListeners(n int) Option {
	return func(b *Bus) {
		b.SetMaxListeners(n)
	}
}

// WithLogger sets the logger used for listener failures and cap warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics counts listener failures per event.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(b *Bus) {
		b.metrics = metrics
	}
}

// NewBus creates an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		listeners: xsync.NewMapOf[string, []*listener](),
		logger:    zap.NewNop(),
	}
	b.maxListeners.Store(DefaultMaxListeners)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetMaxListeners changes the soft cap. Negative values are treated as zero.
func (b *Bus) SetMaxListeners(n int) {
	if n < 0 {
		n = 0
	}
	b.maxListeners.Store(int64(n))
}

// On registers h for event.
func (b *Bus) On(event string, h Handler) Subscription {
	return b.register(event, h, false)
}

// Once registers h for event. It is removed before its first invocation and fires at
// most once even under concurrent emits.
func (b *Bus) Once(event string, h Handler) Subscription {
	return b.register(event, h, true)
}

func (b *Bus) register(event string, h Handler, once bool) Subscription {
	l := &listener{
		id:      ListenerID(uuid.NewString()),
		handler: h,
		once:    once,
	}

	list, _ := b.listeners.Compute(event, func(old []*listener, _ bool) ([]*listener, bool) {
		next := make([]*listener, 0, len(old)+1)
		next = append(next, old...)
		return append(next, l), false
	})

	if limit := b.maxListeners.Load(); limit > 0 && int64(len(list)) > limit {
		b.logger.Warn("possible event listener leak",
			zap.String("event", event),
			zap.Int("listeners", len(list)),
			zap.Int64("max", limit),
		)
	}

	return Subscription{ID: l.id, Event: event, bus: b}
}

// Off removes the listener registered under id and reports whether it was found.
// The event entry is dropped once its last listener is gone.
func (b *Bus) Off(event string, id ListenerID) bool {
	removed := false
	b.listeners.Compute(event, func(old []*listener, loaded bool) ([]*listener, bool) {
		if !loaded {
			return nil, true
		}
		idx := slices.IndexFunc(old, func(l *listener) bool { return l.id == id })
		if idx < 0 {
			return old, false
		}
		removed = true
		next := make([]*listener, 0, len(old)-1)
		next = append(next, old[:idx]...)
		next = append(next, old[idx+1:]...)
		return next, len(next) == 0
	})
	return removed
}

// Emit invokes the listeners registered for event when the call starts, in
// registration order, and returns how many were invoked.
func (b *Bus) Emit(ctx context.Context, event string, args ...any) int {
	snapshot, ok := b.listeners.Load(event)
	if !ok {
		return 0
	}

	invoked := 0
	for _, l := range snapshot {
		if l.once {
			if !l.fired.CompareAndSwap(false, true) {
				continue
			}
			b.Off(event, l.id)
		}

		invoked++
		if err := b.invoke(ctx, l, args); err != nil {
			b.metrics.ListenerError(event)
			b.logger.Error("event listener failed",
				zap.String("event", event),
				zap.String("listener", string(l.id)),
				zap.Error(err),
			)
		}
	}
	return invoked
}

func (b *Bus) invoke(ctx context.Context, l *listener, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrListenerPanic, r)
		}
	}()
	return l.handler(ctx, args...)
}

// RemoveAllListeners drops every listener of the given events, or of all events when
// none are given.
func (b *Bus) RemoveAllListeners(events ...string) {
	if len(events) == 0 {
		b.listeners.Clear()
		return
	}
	for _, event := range events {
		b.listeners.Delete(event)
	}
}

// ListenerCount returns the number of listeners registered for event.
func (b *Bus) ListenerCount(event string) int {
	list, _ := b.listeners.Load(event)
	return len(list)
}

// EventNames returns the events that currently have listeners, sorted.
func (b *Bus) EventNames() []string {
	names := make([]string, 0, b.listeners.Size())
	b.listeners.Range(func(event string, _ []*listener) bool {
		names = append(names, event)
		return true
	})
	sort.Strings(names)
	return names
}
