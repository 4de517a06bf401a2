package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/expiry-discount/internal/resilience"
)

func TestBreakerTransitions(t *testing.T) {
	breaker := resilience.NewBreaker(2, 0.5, 50*time.Millisecond)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State())

	time.Sleep(60 * time.Millisecond)
	require.True(t, breaker.Allow(ctx), "breaker should admit a probe after cool off")
	require.False(t, breaker.Allow(ctx), "only one probe while half-open")
	breaker.Report(ctx, true)
	require.True(t, breaker.Allow(ctx), "breaker should close after successful probe")
}

func TestBreakerDo(t *testing.T) {
	reg := prometheus.NewRegistry()
	resilience.MustRegisterMetrics("test", reg)

	breaker := resilience.NewBreaker(1, 0.5, time.Hour).WithTarget("redis_cache")
	ctx := context.Background()
	boom := errors.New("dial tcp: refused")
	miss := errors.New("miss")

	err := breaker.Do(ctx, func() error { return miss }, func(err error) bool { return errors.Is(err, miss) })
	require.ErrorIs(t, err, miss)
	require.Equal(t, resilience.Closed, breaker.State())

	err = breaker.Do(ctx, func() error { return boom }, nil)
	require.ErrorIs(t, err, boom)

	called := false
	err = breaker.Do(ctx, func() error { called = true; return nil }, nil)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.False(t, called)
	if resilience.BreakerState != nil {
		require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("redis_cache")))
	}

	var nilBreaker *resilience.Breaker
	require.NoError(t, nilBreaker.Do(ctx, func() error { return nil }, nil))
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-(base*2/5))
	require.LessOrEqual(t, d, base*2+(base*2/5))
}

func TestRetry(t *testing.T) {
	calls := 0
	err := resilience.Retry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = resilience.Retry(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.EqualError(t, err, "down")
	require.Equal(t, 2, calls)
}
