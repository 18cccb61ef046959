package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emirsalihagic/miniERP-sub001/internal/resilience"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreaker(minRequests int, ratio float64, openFor time.Duration) (*resilience.Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return resilience.NewBreaker(minRequests, ratio, openFor).WithClock(clock.now), clock
}

func TestBreakerOpensAtRatioAndRecoversThroughProbe(t *testing.T) {
	breaker, clock := newBreaker(4, 0.5, time.Minute)
	ctx := context.Background()

	breaker.Report(ctx, true)
	breaker.Report(ctx, false)
	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State(), "below minimum sample size")

	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))

	clock.advance(59 * time.Second)
	require.False(t, breaker.Allow(ctx))

	clock.advance(time.Second)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, resilience.HalfOpen, breaker.State())
	require.False(t, breaker.Allow(ctx), "only one probe at a time")

	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	breaker, clock := newBreaker(1, 0.5, 10*time.Second)
	ctx := context.Background()

	breaker.Report(ctx, false)
	clock.advance(10 * time.Second)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())

	clock.advance(5 * time.Second)
	require.False(t, breaker.Allow(ctx), "cool-off restarts on reopen")
}

func TestBreakerWindowForgetsOldFailures(t *testing.T) {
	breaker, _ := newBreaker(2, 0.75, time.Minute)
	ctx := context.Background()

	// window holds four outcomes
	breaker.Report(ctx, false)
	breaker.Report(ctx, true)
	breaker.Report(ctx, true)
	breaker.Report(ctx, true)
	breaker.Report(ctx, false)
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Closed, breaker.State(), "2 of the last 4 failed")

	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State(), "3 of the last 4 failed")
}

func TestExecuteOpensOnFailures(t *testing.T) {
	breaker, _ := newBreaker(2, 0.5, time.Minute)
	breaker.WithTarget("test-execute")
	ctx := context.Background()
	boom := errors.New("boom")

	calls := 0
	fail := func(context.Context) error {
		calls++
		return boom
	}
	require.ErrorIs(t, breaker.Execute(ctx, fail), boom)
	require.ErrorIs(t, breaker.Execute(ctx, fail), boom)
	require.ErrorIs(t, breaker.Execute(ctx, fail), resilience.ErrOpenCircuit)
	require.Equal(t, 2, calls)
}

func TestExecuteIgnoresPermanentAndCanceled(t *testing.T) {
	breaker, clock := newBreaker(1, 0.5, time.Minute)
	ctx := context.Background()
	missing := errors.New("not found")

	err := breaker.Execute(ctx, func(context.Context) error { return resilience.Permanent(missing) })
	require.ErrorIs(t, err, missing)
	err = breaker.Execute(ctx, func(context.Context) error { return context.Canceled })
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, resilience.Closed, breaker.State())

	breaker.Report(ctx, false)
	clock.advance(time.Minute)
	err = breaker.Execute(ctx, func(context.Context) error { return context.DeadlineExceeded })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, resilience.HalfOpen, breaker.State())
	require.NoError(t, breaker.Execute(ctx, func(context.Context) error { return nil }), "canceled probe frees the slot")
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestPermanentNil(t *testing.T) {
	require.NoError(t, resilience.Permanent(nil))
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 0, 0))
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))
	require.Equal(t, 100*time.Millisecond, resilience.Backoff(0, 1, 0))

	for range 20 {
		d := resilience.Backoff(base, 2, 0.2)
		require.GreaterOrEqual(t, d, 160*time.Millisecond)
		require.LessOrEqual(t, d, 240*time.Millisecond)
	}
}
