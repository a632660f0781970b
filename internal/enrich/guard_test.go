package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Jagard11/Launcher/internal/inference"
	"github.com/stretchr/testify/require"
)

func testGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:          30 * time.Millisecond,
		MaxRetries:       2,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		FailureThreshold: 10,
	}
}

func failing(err error) *stubAnalyzer {
	return &stubAnalyzer{analyzeFn: func(context.Context, inference.Request) (string, error) {
		return "", err
	}}
}

func TestGuard_RetriesUnavailable(t *testing.T) {
	a := &stubAnalyzer{}
	a.analyzeFn = func(context.Context, inference.Request) (string, error) {
		if a.calls.Load() < 3 {
			return "", inference.ErrUnavailable
		}
		return "ok", nil
	}
	g := NewGuard(a, testGuardConfig(), nil)

	text, err := g.Analyze(context.Background(), inference.Request{Kind: inference.KindLaunch})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.EqualValues(t, 3, a.calls.Load())
}

func TestGuard_DoesNotRetryTimeoutOrMalformed(t *testing.T) {
	for _, err := range []error{inference.ErrTimeout, inference.ErrMalformed, errors.New("bad request")} {
		a := failing(err)
		g := NewGuard(a, testGuardConfig(), nil)
		_, got := g.Analyze(context.Background(), inference.Request{Kind: inference.KindLaunch})
		require.ErrorIs(t, got, err)
		require.EqualValues(t, 1, a.calls.Load())
	}
}

func TestGuard_AbandonsSlowCall(t *testing.T) {
	release := make(chan struct{})
	a := &stubAnalyzer{analyzeFn: func(context.Context, inference.Request) (string, error) {
		<-release
		return `{"late":true}`, nil
	}}
	g := NewGuard(a, testGuardConfig(), nil)

	start := time.Now()
	_, err := g.Analyze(context.Background(), inference.Request{Kind: inference.KindLaunch})
	require.ErrorIs(t, err, inference.ErrTimeout)
	require.Less(t, time.Since(start), time.Second)
	close(release)
}

func TestGuard_BreakerOpensAfterFailures(t *testing.T) {
	cfg := testGuardConfig()
	cfg.MaxRetries = 0
	cfg.FailureThreshold = 2
	a := failing(inference.ErrUnavailable)
	g := NewGuard(a, cfg, nil)

	for i := 0; i < 2; i++ {
		_, err := g.Analyze(context.Background(), inference.Request{Kind: inference.KindLaunch})
		require.ErrorIs(t, err, inference.ErrUnavailable)
	}
	require.Equal(t, CircuitOpen, g.Breaker().State())

	_, err := g.Analyze(context.Background(), inference.Request{Kind: inference.KindLaunch})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.ErrorIs(t, err, inference.ErrUnavailable)
	require.EqualValues(t, 2, a.calls.Load())
}

func TestGuard_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGuard(blocking(), testGuardConfig(), nil)
	_, err := g.Analyze(ctx, inference.Request{Kind: inference.KindLaunch})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, 2, time.Minute, nil)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	require.Equal(t, CircuitHalfOpen, cb.State())

	// A failure while probing reopens at once.
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	require.Equal(t, CircuitHalfOpen, cb.State())
	cb.RecordSuccess()
	require.Equal(t, CircuitClosed, cb.State())
}
