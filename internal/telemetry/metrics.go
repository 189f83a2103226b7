// Package telemetry holds the Prometheus collectors shared by the cache, event bus,
// query and transaction packages.
//
// A nil *Metrics is valid and records nothing, so components can take metrics as an
// optional dependency without branching at every call site.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "querycache"

// Metrics groups every counter emitted by the library.
type Metrics struct {
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheExpired     prometheus.Counter
	CacheSets        prometheus.Counter
	CacheInvalidated prometheus.Counter
	DurableErrors    *prometheus.CounterVec
	StaleServed      prometheus.Counter
	Refreshes        prometheus.Counter
	RefreshErrors    prometheus.Counter
	ListenerErrors   *prometheus.CounterVec
	Rollbacks        prometheus.Counter
}

// NewMetrics builds the collectors and registers them with reg. A nil registerer
// returns unregistered collectors, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache reads that returned a valid entry.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache reads that found no entry.",
		}),
		CacheExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expired_total",
			Help:      "Total number of expired entries found on read and lazily evicted.",
		}),
		CacheSets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_sets_total",
			Help:      "Total number of entries written to the cache.",
		}),
		CacheInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidated_total",
			Help:      "Total number of entries removed by pattern invalidation.",
		}),
		DurableErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durable_errors_total",
			Help:      "Durable tier failures by operation. These never surface to callers.",
		}, []string{"op"}),
		StaleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_stale_served_total",
			Help:      "Total number of stale-but-valid results served while a refresh was scheduled.",
		}),
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_refreshes_total",
			Help:      "Total number of query executions triggered by the cache.",
		}),
		RefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_refresh_errors_total",
			Help:      "Total number of failed query refreshes.",
		}),
		ListenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_listener_errors_total",
			Help:      "Event listener failures by event name.",
		}, []string{"event"}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txn_rollbacks_total",
			Help:      "Total number of rolled back transactions.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CacheHits, m.CacheMisses, m.CacheExpired, m.CacheSets, m.CacheInvalidated,
		m.DurableErrors, m.StaleServed, m.Refreshes, m.RefreshErrors, m.ListenerErrors,
		m.Rollbacks,
	}
}

func (m *Metrics) Hit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) Miss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) Expired() {
	if m != nil {
		m.CacheExpired.Inc()
	}
}

func (m *Metrics) Set() {
	if m != nil {
		m.CacheSets.Inc()
	}
}

func (m *Metrics) Invalidated(n int) {
	if m != nil && n > 0 {
		m.CacheInvalidated.Add(float64(n))
	}
}

func (m *Metrics) DurableError(op string) {
	if m != nil {
		m.DurableErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Stale() {
	if m != nil {
		m.StaleServed.Inc()
	}
}

func (m *Metrics) Refresh() {
	if m != nil {
		m.Refreshes.Inc()
	}
}

func (m *Metrics) RefreshError() {
	if m != nil {
		m.RefreshErrors.Inc()
	}
}

func (m *Metrics) ListenerError(event string) {
	if m != nil {
		m.ListenerErrors.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Rollback() {
	if m != nil {
		m.Rollbacks.Inc()
	}
}
