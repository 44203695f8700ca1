package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/cachekit/cache"
	"github.com/jonwraymond/cachekit/resilience"
)

// StoreChecker probes a cache backend with a lightweight existence lookup.
// The probe key does not need to exist; only the round trip matters.
type StoreChecker struct {
	store    cache.Store
	probeKey string
	timeout  time.Duration
}

// StoreCheckerOption configures a StoreChecker.
type StoreCheckerOption func(*StoreChecker)

// WithProbeKey overrides the key used for the probe lookup.
func WithProbeKey(key string) StoreCheckerOption {
	return func(c *StoreChecker) { c.probeKey = key }
}

// WithProbeTimeout bounds the probe round trip.
func WithProbeTimeout(timeout time.Duration) StoreCheckerOption {
	return func(c *StoreChecker) { c.timeout = timeout }
}

// NewStoreChecker creates a checker for the given store.
func NewStoreChecker(store cache.Store, opts ...StoreCheckerOption) (*StoreChecker, error) {
	if store == nil {
		return nil, cache.ErrNilStore
	}
	c := &StoreChecker{
		store:    store,
		probeKey: "healthcheck:probe",
		timeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check probes the store and reports its reachability.
func (c *StoreChecker) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	_, err := c.store.Exists(ctx, c.probeKey)
	latency := time.Since(start)

	if err != nil {
		return Unhealthy("store probe failed", fmt.Errorf("%w: %v", ErrCheckFailed, err))
	}
	return Healthy("store reachable").WithDetails(map[string]any{
		"latency": latency.String(),
	})
}

// Ping checks that the store is reachable, without a full Result.
func (c *StoreChecker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.store.Exists(ctx, c.probeKey); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}
	return nil
}

// BreakerChecker reports the state of a circuit breaker. An open breaker is
// unhealthy, a half-open breaker degraded while it probes recovery, and a
// closed breaker healthy.
type BreakerChecker struct {
	breaker *resilience.CircuitBreaker
}

// NewBreakerChecker creates a checker for the given breaker.
func NewBreakerChecker(breaker *resilience.CircuitBreaker) (*BreakerChecker, error) {
	if breaker == nil {
		return nil, resilience.ErrNilBreaker
	}
	return &BreakerChecker{breaker: breaker}, nil
}

// Check reports the breaker state.
func (c *BreakerChecker) Check(ctx context.Context) Result {
	m := c.breaker.Metrics()

	details := map[string]any{
		"state":    m.State.String(),
		"failures": m.Failures,
	}
	if !m.LastFailure.IsZero() {
		details["lastFailure"] = m.LastFailure.Format(time.RFC3339)
	}

	switch m.State {
	case resilience.StateOpen:
		return Unhealthy("circuit open", ErrCheckFailed).WithDetails(details)
	case resilience.StateHalfOpen:
		return Degraded("circuit half-open, probing recovery").WithDetails(details)
	default:
		return Healthy("circuit closed").WithDetails(details)
	}
}

var (
	_ Checker = (*StoreChecker)(nil)
	_ Checker = (*BreakerChecker)(nil)
)
