package repositorycache

import (
	"context"
	"reflect"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/events"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// DefaultTTL is how long read results are kept when no TTL option is given.
const DefaultTTL = 5 * time.Minute

// listResult wraps the tuple result of List for caching.
type listResult[T any] struct {
	Records []T `msgpack:"records"`
	Total   int `msgpack:"total"`
}

// Events names the domain events published after successful writes. Empty names are skipped.
type Events struct {
	Created string
	Updated string
	Deleted string
}

// CachedRepository decorates a repository with read-through caching on a cache.Manager.
//
// Reads are cached under "<namespace>.<Method>" keys. Every successful write removes
// the whole namespace plus any patterns attached to the context with
// WithInvalidationPatterns. Transactional reads and Raw queries go straight to the
// base repository.
type CachedRepository[T any] struct {
	base       repository.Repository[T]
	manager    *cache.Manager
	serializer cache.KeySerializer
	logger     *zap.Logger
	bus        *events.Bus
	events     Events
	namespace  string
	ttl        time.Duration
	renderer   bun.IDB
	model      func() any
}

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	serializer cache.KeySerializer
	logger     *zap.Logger
	bus        *events.Bus
	events     Events
	namespace  string
	ttl        time.Duration
	renderer   bun.IDB
}

// WithNamespace overrides the key namespace derived from the record type.
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithTTL sets the lifetime of cached reads.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithSerializer replaces the default key serializer.
func WithSerializer(s cache.KeySerializer) Option {
	return func(o *options) {
		o.serializer = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEvents publishes evts on bus after successful writes.
func WithEvents(bus *events.Bus, evts Events) Option {
	return func(o *options) {
		o.bus = bus
		o.events = evts
	}
}

// WithCriteriaRenderer renders select criteria to SQL with db when building keys.
// Without it criteria are keyed by function identity, so closures that capture
// different values share a key.
func WithCriteriaRenderer(db bun.IDB) Option {
	return func(o *options) {
		o.renderer = db
	}
}

// New wraps base with caching on manager.
func New[T any](base repository.Repository[T], manager *cache.Manager, opts ...Option) *CachedRepository[T] {
	o := options{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.serializer == nil {
		o.serializer = cache.NewDefaultKeySerializer()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.namespace == "" {
		o.namespace = namespaceOf[T]()
	}

	return &CachedRepository[T]{
		base:       base,
		manager:    manager,
		serializer: o.serializer,
		logger:     o.logger,
		bus:        o.bus,
		events:     o.events,
		namespace:  o.namespace,
		ttl:        o.ttl,
		renderer:   o.renderer,
		model:      modelFactory[T](),
	}
}

// Namespace returns the key namespace of this repository.
func (c *CachedRepository[T]) Namespace() string {
	return c.namespace
}

func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	key := c.key("Get", nil, criteria)
	return cache.GetOrFetch(ctx, c.manager, key, c.ttl, func(ctx context.Context) (T, error) {
		return c.base.Get(ctx, criteria...)
	})
}

func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	key := c.key("GetByID", []any{id}, criteria)
	return cache.GetOrFetch(ctx, c.manager, key, c.ttl, func(ctx context.Context) (T, error) {
		return c.base.GetByID(ctx, id, criteria...)
	})
}

func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	key := c.key("List", nil, criteria)
	res, err := cache.GetOrFetch(ctx, c.manager, key, c.ttl, func(ctx context.Context) (listResult[T], error) {
		records, total, err := c.base.List(ctx, criteria...)
		return listResult[T]{Records: records, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	key := c.key("Count", nil, criteria)
	return cache.GetOrFetch(ctx, c.manager, key, c.ttl, func(ctx context.Context) (int, error) {
		return c.base.Count(ctx, criteria...)
	})
}

func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	key := c.key("GetByIdentifier", []any{identifier}, criteria)
	return cache.GetOrFetch(ctx, c.manager, key, c.ttl, func(ctx context.Context) (T, error) {
		return c.base.GetByIdentifier(ctx, identifier, criteria...)
	})
}

func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.Create(ctx, record, criteria...)
	if err == nil {
		c.afterWrite(ctx, c.events.Created, result)
	}
	return result, err
}

func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateMany(ctx, records, criteria...)
	if err == nil {
		c.afterWrite(ctx, c.events.Created, result)
	}
	return result, err
}

// GetOrCreate invalidates on success but publishes nothing, since the base
// repository does not report whether a record was created.
func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.base.GetOrCreate(ctx, record)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Update(ctx, record, criteria...)
	if err == nil {
		c.afterWrite(ctx, c.events.Updated, result)
	}
	return result, err
}

func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateMany(ctx, records, criteria...)
	if err == nil {
		c.afterWrite(ctx, c.events.Updated, result)
	}
	return result, err
}

func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Upsert(ctx, record, criteria...)
	if err == nil {
		c.afterWrite(ctx, c.events.Updated, result)
	}
	return result, err
}

func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertMany(ctx, records, criteria...)
	if err == nil {
		c.afterWrite(ctx, c.events.Updated, result)
	}
	return result, err
}

func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	err := c.base.Delete(ctx, record)
	if err == nil {
		c.afterWrite(ctx, c.events.Deleted, record)
	}
	return err
}

func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteMany(ctx, criteria...)
	if err == nil {
		c.afterWrite(ctx, c.events.Deleted)
	}
	return err
}

func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhere(ctx, criteria...)
	if err == nil {
		c.afterWrite(ctx, c.events.Deleted)
	}
	return err
}

func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	err := c.base.ForceDelete(ctx, record)
	if err == nil {
		c.afterWrite(ctx, c.events.Deleted, record)
	}
	return err
}

// Transactional writes invalidate right away but never publish events: the caller
// owns the transaction and may still roll it back.

func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	c.invalidateOn(ctx, err)
	return result, err
}

func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateManyTx(ctx, tx, records, criteria...)
	c.invalidateOn(ctx, err)
	return result, err
}

func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.base.GetOrCreateTx(ctx, tx, record)
	c.invalidateOn(ctx, err)
	return result, err
}

func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpdateTx(ctx, tx, record, criteria...)
	c.invalidateOn(ctx, err)
	return result, err
}

func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateManyTx(ctx, tx, records, criteria...)
	c.invalidateOn(ctx, err)
	return result, err
}

func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpsertTx(ctx, tx, record, criteria...)
	c.invalidateOn(ctx, err)
	return result, err
}

func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertManyTx(ctx, tx, records, criteria...)
	c.invalidateOn(ctx, err)
	return result, err
}

func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.DeleteTx(ctx, tx, record)
	c.invalidateOn(ctx, err)
	return err
}

func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteManyTx(ctx, tx, criteria...)
	c.invalidateOn(ctx, err)
	return err
}

func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhereTx(ctx, tx, criteria...)
	c.invalidateOn(ctx, err)
	return err
}

func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.ForceDeleteTx(ctx, tx, record)
	c.invalidateOn(ctx, err)
	return err
}

func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// key builds "<namespace>.<method>" plus the positional args and the criteria.
func (c *CachedRepository[T]) key(method string, args []any, criteria []repository.SelectCriteria) string {
	params := append([]any(nil), args...)
	switch {
	case len(criteria) == 0:
	case c.renderer != nil:
		params = append(params, c.renderCriteria(criteria))
	default:
		for _, fn := range criteria {
			params = append(params, fn)
		}
	}
	return c.serializer.SerializeKey(c.namespace+"."+method, params...)
}

func (c *CachedRepository[T]) renderCriteria(criteria []repository.SelectCriteria) string {
	q := c.renderer.NewSelect().Model(c.model())
	for _, fn := range criteria {
		q = fn(q)
	}
	return q.String()
}

func (c *CachedRepository[T]) afterWrite(ctx context.Context, event string, args ...any) {
	c.invalidate(ctx)
	if c.bus == nil || event == "" {
		return
	}
	c.bus.Emit(ctx, event, args...)
}

func (c *CachedRepository[T]) invalidateOn(ctx context.Context, err error) {
	if err == nil {
		c.invalidate(ctx)
	}
}

func (c *CachedRepository[T]) invalidate(ctx context.Context) {
	removed := c.manager.InvalidatePattern(ctx, c.namespace+".")
	for _, pattern := range invalidationPatterns(ctx) {
		removed += c.manager.InvalidatePattern(ctx, pattern)
	}
	c.logger.Debug("repository cache invalidated",
		zap.String("namespace", c.namespace),
		zap.Int("removed", removed),
	)
}

// namespaceOf derives the snake_case name of T, looking through pointers.
func namespaceOf[T any]() string {
	rt := reflect.TypeFor[T]()
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	name := rt.Name()
	if name == "" {
		name = rt.String()
	}
	return toSnake(name)
}

// modelFactory returns a constructor of *Struct values for bun query rendering.
func modelFactory[T any]() func() any {
	rt := reflect.TypeFor[T]()
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return func() any {
		return reflect.New(rt).Interface()
	}
}
