package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayExponentialCapped(t *testing.T) {
	p := Exponential(4, 100*time.Millisecond, 300*time.Millisecond)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{7, 300 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Fatalf("Delay(%d)=%s want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{MaxAttempts: 3, Base: time.Second, Multiplier: 2, Jitter: 0.3}
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		require.GreaterOrEqual(t, d, 700*time.Millisecond)
		require.LessOrEqual(t, d, 1300*time.Millisecond)
	}
}

func TestImmediateHasNoDelay(t *testing.T) {
	require.Zero(t, Immediate(2).Delay(1))
}

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Immediate(3).Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestDoExhaustsAndReturnsLastError(t *testing.T) {
	calls := 0
	err := Immediate(2).Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		return errors.New("fail")
	})
	require.EqualError(t, err, "fail")
	require.Equal(t, 2, calls)
}

func TestDoPermanentShortCircuits(t *testing.T) {
	calls := 0
	base := errors.New("bad input")
	err := Immediate(5).Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(base)
	})
	require.ErrorIs(t, err, base)
	require.Equal(t, 1, calls)
}

func TestDoHonorsCancellationWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Exponential(3, time.Hour, time.Hour).Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(Transient(errors.New("net"))))
	require.True(t, IsTransient(context.DeadlineExceeded))
	require.False(t, IsTransient(errors.New("plain")))
	require.False(t, IsTransient(nil))
}
