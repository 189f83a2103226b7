package query

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/events"
	"github.com/goliatone/go-query-cache/internal/background"
	"github.com/goliatone/go-query-cache/internal/telemetry"
	"github.com/goliatone/go-query-cache/sqlexec"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrDisabled is returned by Load when the query options disable it.
	ErrDisabled = errors.New("query: disabled")

	// ErrInvalidOptions is returned when StaleTime exceeds TTL or either is negative.
	ErrInvalidOptions = errors.New("query: stale time must be within ttl")
)

const (
	DefaultTTL       = 5 * time.Minute
	DefaultStaleTime = 30 * time.Second
)

// Client binds a cache manager to a query executor. One client is shared by every
// cached query of an application.
type Client struct {
	manager    *cache.Manager
	exec       sqlexec.Executor
	serializer cache.KeySerializer
	logger     *zap.Logger
	metrics    *telemetry.Metrics

	defaultTTL       time.Duration
	defaultStaleTime time.Duration

	flights   singleflight.Group
	refreshes background.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSerializer replaces the default key serializer.
func WithSerializer(s cache.KeySerializer) ClientOption {
	return func(c *Client) {
		if s != nil {
			c.serializer = s
		}
	}
}

// WithLogger sets the logger used for background refresh diagnostics.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics counts refreshes and stale reads.
func WithMetrics(metrics *telemetry.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// WithDefaults sets the TTL and stale time used when Options leave them at zero.
func WithDefaults(ttl, staleTime time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
		if staleTime >= 0 {
			c.defaultStaleTime = staleTime
		}
	}
}

// NewClient creates a client reading through manager to exec.
func NewClient(manager *cache.Manager, exec sqlexec.Executor, opts ...ClientOption) *Client {
	c := &Client{
		manager:          manager,
		exec:             exec,
		serializer:       cache.NewDefaultKeySerializer(),
		logger:           zap.NewNop(),
		defaultTTL:       DefaultTTL,
		defaultStaleTime: DefaultStaleTime,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Manager returns the cache manager behind the client.
func (c *Client) Manager() *cache.Manager {
	return c.manager
}

// Executor returns the executor queries run against.
func (c *Client) Executor() sqlexec.Executor {
	return c.exec
}

// Key derives the cache key for query and params with the client serializer.
func (c *Client) Key(query string, params ...any) string {
	return c.serializer.SerializeKey(query, params...)
}

// InvalidateOn removes every entry whose key contains pattern whenever one of the
// events is emitted. The returned function unsubscribes.
func (c *Client) InvalidateOn(bus *events.Bus, pattern string, names ...string) func() {
	return subscribeAll(bus, names, func(ctx context.Context, _ ...any) error {
		n := c.manager.InvalidatePattern(ctx, pattern)
		c.logger.Debug("invalidated queries on event",
			zap.String("pattern", pattern),
			zap.Int("removed", n),
		)
		return nil
	})
}

// Wait blocks until every background refresh scheduled so far has finished.
func (c *Client) Wait() {
	c.refreshes.Wait()
}

// Close waits for background refreshes and stops scheduling new ones. Stale results
// are still served, they are just no longer refreshed.
func (c *Client) Close() {
	c.refreshes.Close()
}

func (c *Client) background(fn func()) bool {
	return c.refreshes.Go(fn)
}

func subscribeAll(bus *events.Bus, names []string, h events.Handler) func() {
	subs := make([]events.Subscription, 0, len(names))
	for _, name := range names {
		subs = append(subs, bus.On(name, h))
	}
	return func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}
}
