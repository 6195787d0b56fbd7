package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersRegisterAndIncrement(t *testing.T) {
	t.Parallel()

	m := New()
	m.PagesTotal.WithLabelValues("ok").Inc()
	m.PagesTotal.WithLabelValues("ok").Inc()
	m.PagesTotal.WithLabelValues("failed").Inc()
	m.ItemsTotal.Inc()
	m.FailuresTotal.WithLabelValues("item").Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(m.PagesTotal.WithLabelValues("ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PagesTotal.WithLabelValues("failed")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ItemsTotal))
}

func TestDedicatedRegistriesAreIndependent(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()
	a.ItemsTotal.Inc()

	require.Equal(t, float64(1), testutil.ToFloat64(a.ItemsTotal))
	require.Equal(t, float64(0), testutil.ToFloat64(b.ItemsTotal))
}

func TestRetryAndBufferHelpers(t *testing.T) {
	t.Parallel()

	m := New()
	m.IncRetry()
	m.IncRetry()
	m.SetBufferedRecords(42)

	require.Equal(t, float64(2), testutil.ToFloat64(m.RetriesTotal))
	require.Equal(t, float64(42), testutil.ToFloat64(m.BufferedRecords))

	m.SetBufferedRecords(0)
	require.Equal(t, float64(0), testutil.ToFloat64(m.BufferedRecords))
}

func TestObserveHelpersTolerateNil(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveFetch(time.Second)
	m.ObserveHTTPRequest("GET", "/healthz", 200, time.Millisecond)
	m.IncRetry()
	m.SetBufferedRecords(5)
}
