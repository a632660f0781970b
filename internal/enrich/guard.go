package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Jagard11/Launcher/internal/inference"
	"github.com/Jagard11/Launcher/internal/metrics"
	"golang.org/x/time/rate"
)

// GuardConfig bounds every inference call made by the pipeline.
type GuardConfig struct {
	Timeout           time.Duration // per attempt (default: 90s)
	MaxRetries        int           // retries after the first attempt, unavailable errors only
	InitialBackoff    time.Duration // default: 1s
	MaxBackoff        time.Duration // default: 30s
	BackoffMultiplier float64       // default: 2.0
	RatePerSecond     float64       // 0 = unlimited

	FailureThreshold int           // consecutive failures before opening (default: 5)
	SuccessThreshold int           // half-open successes before closing (default: 1)
	OpenTimeout      time.Duration // default: 30s
}

// DefaultGuardConfig returns the defaults used when the config leaves them unset.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:           90 * time.Second,
		MaxRetries:        1,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		FailureThreshold:  5,
		SuccessThreshold:  1,
		OpenTimeout:       30 * time.Second,
	}
}

func (c GuardConfig) withDefaults() GuardConfig {
	d := DefaultGuardConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	return c
}

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the breaker is failing fast.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a backend that keeps failing. Only transient
// failures count against it.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time
	logger           *slog.Logger
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		now:              time.Now,
		logger:           logger,
	}
}

// Allow reports whether a call may go through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a transient failure.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()
	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successCount = 0
	if to == CircuitClosed {
		cb.failureCount = 0
	}
	cb.logger.Warn("inference circuit breaker transition",
		"from", from.String(), "to", to.String(), "failures", cb.failureCount, "open_timeout", cb.openTimeout)
}

// Guard wraps an Analyzer with a per-attempt deadline, pacing, the circuit
// breaker and retries.
type Guard struct {
	analyzer inference.Analyzer
	cfg      GuardConfig
	limiter  *rate.Limiter
	breaker  *CircuitBreaker
	logger   *slog.Logger
}

// NewGuard creates a Guard around analyzer.
func NewGuard(analyzer inference.Analyzer, cfg GuardConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Guard{
		analyzer: analyzer,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		breaker:  NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout, logger),
		logger:   logger,
	}
}

// Breaker exposes the circuit breaker for status reporting.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Analyze runs one request. Only ErrUnavailable is retried: a model that timed
// out once is likely to time out again, and a malformed answer is handled by
// the strategy chain.
func (g *Guard) Analyze(ctx context.Context, req inference.Request) (string, error) {
	var lastErr error
	backoff := g.cfg.InitialBackoff

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := g.breaker.Allow(); err != nil {
			metrics.InferenceCalls.WithLabelValues(string(req.Kind), "rejected").Inc()
			return "", fmt.Errorf("%w: %w", inference.ErrUnavailable, err)
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}

		text, err := g.attempt(ctx, req)
		if err == nil {
			g.breaker.RecordSuccess()
			metrics.InferenceCalls.WithLabelValues(string(req.Kind), "ok").Inc()
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		metrics.InferenceCalls.WithLabelValues(string(req.Kind), outcomeLabel(err)).Inc()
		if inference.IsTransient(err) {
			g.breaker.RecordFailure()
		}
		if !errors.Is(err, inference.ErrUnavailable) || attempt == g.cfg.MaxRetries {
			break
		}

		g.logger.Debug("inference unavailable, retrying",
			"kind", req.Kind, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * g.cfg.BackoffMultiplier)
			if backoff > g.cfg.MaxBackoff {
				backoff = g.cfg.MaxBackoff
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// attempt runs a single call under the per-attempt deadline. A call that
// overruns is abandoned; whatever it returns later is dropped.
func (g *Guard) attempt(ctx context.Context, req inference.Request) (string, error) {
	actx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		text, err := g.analyzer.Analyze(actx, req)
		ch <- reply{text, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(r.err, inference.ErrTimeout) {
			return "", fmt.Errorf("%w: %w", inference.ErrTimeout, r.err)
		}
		return r.text, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: no answer within %s", inference.ErrTimeout, g.cfg.Timeout)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, inference.ErrTimeout):
		return "timeout"
	case errors.Is(err, inference.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, inference.ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}
