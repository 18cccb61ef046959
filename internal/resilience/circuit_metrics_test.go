package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/emirsalihagic/miniERP-sub001/internal/resilience"
)

func TestBreakerMetricsTransitions(t *testing.T) {
	resilience.MustRegisterMetrics("test", prometheus.NewRegistry())
	require.NotNil(t, resilience.BreakerState)

	breaker, clock := newBreaker(1, 0.5, 20*time.Second)
	breaker.WithTarget("metrics-sync")
	ctx := context.Background()
	gauge := func() float64 { return testutil.ToFloat64(resilience.BreakerState.WithLabelValues("metrics-sync")) }

	require.Equal(t, 0.0, gauge())
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, gauge())

	clock.advance(20 * time.Second)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, 2.0, gauge())

	breaker.Report(ctx, true)
	require.Equal(t, 0.0, gauge())

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("metrics-sync")))
	for _, tr := range [][2]string{{"closed", "open"}, {"open", "half_open"}, {"half_open", "closed"}} {
		require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("metrics-sync", tr[0], tr[1])), tr)
	}
}
