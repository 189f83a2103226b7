package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-query-cache/events"
	"github.com/goliatone/go-query-cache/internal/telemetry"
	"github.com/goliatone/go-query-cache/sqlexec"
	"go.uber.org/zap"
)

var (
	// ErrNestedTransaction is returned when Run is called with a context that is
	// already inside a Run of the same runner.
	ErrNestedTransaction = errors.New("txn: nested transactions are not supported")

	// ErrInvalidIdentifier is returned by the batch helpers for unsafe table or
	// column names. No transaction is opened.
	ErrInvalidIdentifier = errors.New("txn: invalid SQL identifier")

	// ErrEmptyUpdate is returned by BatchUpdate for an update without values.
	ErrEmptyUpdate = errors.New("txn: update has no values")

	// ErrUnknownColumn is returned by BatchInsert for a record holding a key outside
	// the explicit column list. No transaction is opened.
	ErrUnknownColumn = errors.New("txn: record has a value for an unlisted column")
)

type runnerKey struct{}

// Func is the body of a transaction. It must use the executor and context it is given.
type Func func(ctx context.Context, exec sqlexec.Executor) error

// Runner executes functions atomically with BEGIN/COMMIT/ROLLBACK on one executor.
// Transactions on the same runner are serialized.
type Runner struct {
	exec    sqlexec.Executor
	bus     *events.Bus
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithBus sets the bus used by the Emit run option.
func WithBus(bus *events.Bus) Option {
	return func(r *Runner) {
		r.bus = bus
	}
}

// WithLogger sets the logger used to report rollback failures.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics counts rollbacks.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// NewRunner creates a runner over exec.
func NewRunner(exec sqlexec.Executor, opts ...Option) *Runner {
	r := &Runner{
		exec:   exec,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes fn inside a transaction. Any error returned by fn, or a panic, rolls
// the transaction back; the error is returned unchanged and the panic is re-raised.
// Events attached with Emit are published only after COMMIT succeeds.
func (r *Runner) Run(ctx context.Context, fn Func, opts ...RunOption) error {
	if ctx.Value(runnerKey{}) == r {
		return ErrNestedTransaction
	}
	cfg := newRunConfig(opts)

	if err := r.run(ctx, fn); err != nil {
		return err
	}

	r.publish(ctx, cfg.emits)
	return nil
}

func (r *Runner) run(ctx context.Context, fn Func) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.exec.RunRaw(ctx, "BEGIN"); err != nil {
		return fmt.Errorf("txn: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = r.rollback(ctx, fmt.Errorf("txn: panic: %v", p))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, runnerKey{}, r), r.exec); err != nil {
		return r.rollback(ctx, err)
	}

	if err := r.exec.RunRaw(ctx, "COMMIT"); err != nil {
		return r.rollback(ctx, fmt.Errorf("txn: commit: %w", err))
	}
	return nil
}

// rollback issues ROLLBACK and returns cause, joined with the rollback error if any.
func (r *Runner) rollback(ctx context.Context, cause error) error {
	r.metrics.Rollback()

	if err := r.exec.RunRaw(context.WithoutCancel(ctx), "ROLLBACK"); err != nil {
		r.logger.Error("transaction rollback failed",
			zap.Error(err),
			zap.NamedError("cause", cause),
		)
		return errors.Join(cause, fmt.Errorf("txn: rollback: %w", err))
	}

	r.logger.Debug("transaction rolled back", zap.NamedError("cause", cause))
	return cause
}

func (r *Runner) publish(ctx context.Context, emits []emission) {
	if len(emits) == 0 {
		return
	}
	if r.bus == nil {
		r.logger.Warn("transaction events dropped: runner has no bus", zap.Int("events", len(emits)))
		return
	}
	for _, e := range emits {
		r.bus.Emit(ctx, e.event, e.args...)
	}
}

// RunResult is Run for bodies that produce a value. The zero value is returned on error.
func RunResult[T any](ctx context.Context, r *Runner, fn func(ctx context.Context, exec sqlexec.Executor) (T, error), opts ...RunOption) (T, error) {
	var result T
	err := r.Run(ctx, func(ctx context.Context, exec sqlexec.Executor) error {
		v, err := fn(ctx, exec)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Outcome is the status-flag form of a transaction result.
type Outcome[T any] struct {
	Success bool
	Result  T
	Err     error
}

// TryRun adapts RunResult to an Outcome for callers that prefer not to branch on errors.
func TryRun[T any](ctx context.Context, r *Runner, fn func(ctx context.Context, exec sqlexec.Executor) (T, error), opts ...RunOption) Outcome[T] {
	v, err := RunResult(ctx, r, fn, opts...)
	if err != nil {
		return Outcome[T]{Err: err}
	}
	return Outcome[T]{Success: true, Result: v}
}
