// Package health provides health checking for cache deployments.
//
// A Registry aggregates named Checkers, runs them with a shared timeout
// (in parallel by default) and folds their results into an overall status:
// any unhealthy check makes the whole unhealthy, any degraded check makes
// it degraded, otherwise healthy.
//
// Two domain checkers cover the common wiring: StoreChecker probes a cache
// backend with a bounded existence lookup, and BreakerChecker maps circuit
// breaker state to health (open is unhealthy, half-open degraded, closed
// healthy). Arbitrary checks plug in through CheckerFunc.
package health
