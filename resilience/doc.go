// Package resilience protects callers from a degraded cache backend.
//
// The circuit breaker guards every store-facing operation: it trips open
// once failures cross a threshold, refuses work while open, probes the
// backend after a reset timeout, and resolves refused or failed calls
// through caller-supplied fallbacks. A background health check frees a
// circuit stuck open and sweeps idle per-operation metrics.
//
// # Usage
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    ResetTimeout:     30 * time.Second,
//	})
//	cb.Start()
//	defer cb.Stop()
//
//	value, err := cb.Execute(ctx, "cache.get",
//	    func(ctx context.Context) (any, error) {
//	        return store.Get(ctx, key)
//	    },
//	    func() (any, error) {
//	        return nil, nil // degrade to a cache miss
//	    },
//	)
//
// Retry provides bounded exponential backoff for transient failures, used
// by the invalidation broadcaster's publish path.
package resilience
