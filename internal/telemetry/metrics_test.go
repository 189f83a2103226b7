package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Hit()
		m.Miss()
		m.Expired()
		m.Set()
		m.Invalidated(3)
		m.DurableError("set")
		m.Stale()
		m.Refresh()
		m.RefreshError()
		m.ListenerError("expense.added")
		m.Rollback()
	})
}

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.Hit()
	m.Hit()
	m.DurableError("set")
	m.Invalidated(0)
	m.Invalidated(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DurableErrors.WithLabelValues("set")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheInvalidated))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering the same collectors twice must fail")
}

func TestNewMetrics_NilRegisterer(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)

	m.Rollback()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rollbacks))
}
