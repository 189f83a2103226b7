package di

import (
	"context"
	"errors"
	"fmt"
	"io"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/events"
	"github.com/goliatone/go-query-cache/internal/cacheinfra"
	"github.com/goliatone/go-query-cache/internal/telemetry"
	"github.com/goliatone/go-query-cache/kvstore/rediskv"
	"github.com/goliatone/go-query-cache/kvstore/sqlkv"
	"github.com/goliatone/go-query-cache/query"
	"github.com/goliatone/go-query-cache/repositorycache"
	"github.com/goliatone/go-query-cache/sqlexec"
	"github.com/goliatone/go-query-cache/txn"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ErrNoExecutor is returned by NewContainer when neither WithExecutor nor OpenSQLite
// provided a query executor.
var ErrNoExecutor = errors.New("di: no query executor configured")

// Container wires the cache, event bus, query client and transaction runner that an
// application shares. Every component is created once by NewContainer.
type Container struct {
	config     cache.Config
	logger     *zap.Logger
	serializer cache.KeySerializer
	durable    cache.Durable
	manager    *cache.Manager
	bus        *events.Bus
	exec       sqlexec.Executor
	client     *query.Client
	runner     *txn.Runner
	renderer   bun.IDB
	closers    []io.Closer
}

// Option configures a Container.
type Option func(*settings)

type settings struct {
	config       cache.Config
	logger       *zap.Logger
	registerer   prometheus.Registerer
	durable      cache.Durable
	redis        redis.UniversalClient
	exec         sqlexec.Executor
	clock        clockwork.Clock
	maxListeners int
	closers      []io.Closer
}

// WithConfig replaces cache.DefaultConfig.
func WithConfig(cfg cache.Config) Option {
	return func(s *settings) {
		s.config = cfg
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithRegisterer registers the library metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = reg
	}
}

// WithDurable sets the tier 2 store. Without it entries live in process only.
func WithDurable(d cache.Durable) Option {
	return func(s *settings) {
		s.durable = d
	}
}

// WithRedis uses client as the tier 2 store, scanning only keys under the configured prefix.
func WithRedis(client redis.UniversalClient) Option {
	return func(s *settings) {
		s.redis = client
	}
}

// WithExecutor sets the executor used by the query client and transaction runner.
func WithExecutor(exec sqlexec.Executor) Option {
	return func(s *settings) {
		s.exec = exec
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

// WithMaxListeners sets the event bus listener warning threshold.
func WithMaxListeners(n int) Option {
	return func(s *settings) {
		s.maxListeners = n
	}
}

// NewContainer builds every component. WithExecutor is required.
func NewContainer(opts ...Option) (*Container, error) {
	s := settings{
		config:       cache.DefaultConfig(),
		maxListeners: events.DefaultMaxListeners,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return build(s)
}

// NewContainerWithDefaults builds an in-process only container over exec.
func NewContainerWithDefaults(exec sqlexec.Executor) (*Container, error) {
	return NewContainer(WithExecutor(exec))
}

// OpenSQLite opens dsn and uses it both as the query executor and, through sqlkv,
// as the tier 2 store. Close releases the database.
func OpenSQLite(ctx context.Context, dsn string, opts ...Option) (*Container, error) {
	db, err := sqlexec.OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, err
	}

	durable := sqlkv.New(db)
	if err := durable.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}

	opts = append([]Option{
		WithDurable(durable),
		WithExecutor(sqlexec.NewBunExecutor(db)),
	}, opts...)
	opts = append(opts, func(s *settings) {
		s.closers = append(s.closers, db)
	})

	c, err := NewContainer(opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func build(s settings) (*Container, error) {
	if s.exec == nil {
		return nil, ErrNoExecutor
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.redis != nil {
		s.durable = rediskv.New(s.redis, rediskv.WithMatch(s.config.KeyPrefix+"*"))
	}

	metrics, err := telemetry.NewMetrics(s.registerer)
	if err != nil {
		return nil, fmt.Errorf("di: metrics: %w", err)
	}

	store, err := cacheinfra.NewTieredStore(s.config, s.durable,
		cacheinfra.WithLogger(s.logger),
		cacheinfra.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	managerOpts := []cache.ManagerOption{
		cache.WithLogger(s.logger),
		cache.WithMetrics(metrics),
		cache.WithMaxTTL(s.config.Retention),
	}
	if s.clock != nil {
		managerOpts = append(managerOpts, cache.WithClock(s.clock))
	}
	manager := cache.NewManager(store, managerOpts...)

	bus := events.NewBus(
		events.WithLogger(s.logger),
		events.WithMetrics(metrics),
		events.WithMaxListeners(s.maxListeners),
	)

	serializer := cache.NewDefaultKeySerializer()
	client := query.NewClient(manager, s.exec,
		query.WithSerializer(serializer),
		query.WithLogger(s.logger),
		query.WithMetrics(metrics),
		query.WithDefaults(s.config.DefaultTTL, s.config.DefaultStaleTime),
	)

	runner := txn.NewRunner(s.exec,
		txn.WithBus(bus),
		txn.WithLogger(s.logger),
		txn.WithMetrics(metrics),
	)

	c := &Container{
		config:     s.config,
		logger:     s.logger,
		serializer: serializer,
		durable:    s.durable,
		manager:    manager,
		bus:        bus,
		exec:       s.exec,
		client:     client,
		runner:     runner,
		closers:    s.closers,
	}
	if be, ok := s.exec.(*sqlexec.BunExecutor); ok {
		c.renderer = be.DB()
	}
	return c, nil
}

// Config returns the cache configuration in use.
func (c *Container) Config() cache.Config {
	return c.config
}

// Logger returns the shared logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Manager returns the shared cache manager.
func (c *Container) Manager() *cache.Manager {
	return c.manager
}

// Durable returns the tier 2 store, or nil for an in-process cache.
func (c *Container) Durable() cache.Durable {
	return c.durable
}

// Bus returns the shared event bus.
func (c *Container) Bus() *events.Bus {
	return c.bus
}

// Executor returns the query executor.
func (c *Container) Executor() sqlexec.Executor {
	return c.exec
}

// Query returns the shared query client.
func (c *Container) Query() *query.Client {
	return c.client
}

// Runner returns the shared transaction runner.
func (c *Container) Runner() *txn.Runner {
	return c.runner
}

// KeySerializer returns the serializer shared by the query client and repositories.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.serializer
}

// Close waits for background cache work and releases resources opened by the container.
func (c *Container) Close() error {
	c.client.Close()
	c.manager.Close()

	var errs []error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// NewCachedRepository wraps base with the container's cache. Select criteria are
// rendered to SQL for keys when the executor is bun backed.
//
// Go methods cannot have type parameters, so this is a package-level function:
//
//	expenses := di.NewCachedRepository[Expense](container, base)
func NewCachedRepository[T any](c *Container, base repository.Repository[T], opts ...repositorycache.Option) *repositorycache.CachedRepository[T] {
	defaults := []repositorycache.Option{
		repositorycache.WithSerializer(c.serializer),
		repositorycache.WithLogger(c.logger),
		repositorycache.WithTTL(c.config.DefaultTTL),
	}
	if c.renderer != nil {
		defaults = append(defaults, repositorycache.WithCriteriaRenderer(c.renderer))
	}
	return repositorycache.New(base, c.manager, append(defaults, opts...)...)
}
