package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics records cache engine activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly; never blocks the cache path.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordAccess records a cache access outcome ("hit", "miss" or "set")
	// with the store round-trip duration.
	RecordAccess(ctx context.Context, outcome string, duration time.Duration)

	// RecordInvalidation records an invalidation with the number of keys
	// removed. Kind is "table", "pattern" or "batch".
	RecordInvalidation(ctx context.Context, kind string, keys int)

	// RecordBreakerTransition records a circuit breaker state change.
	RecordBreakerTransition(ctx context.Context, from, to string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter         metric.Meter
	accessCount   metric.Int64Counter
	accessLatency metric.Float64Histogram
	invalidated   metric.Int64Counter
	transitions   metric.Int64Counter
}

// NewMetrics creates a Metrics instance recording through the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newMetrics(meter)
}

// NewNopMetrics returns a Metrics instance that records nothing.
func NewNopMetrics() Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	accessCount, err := meter.Int64Counter(
		"cache.access.total",
		metric.WithDescription("Total number of cache accesses"),
		metric.WithUnit("{access}"),
	)
	if err != nil {
		return nil, err
	}

	accessLatency, err := meter.Float64Histogram(
		"cache.access.duration_ms",
		metric.WithDescription("Cache access duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	invalidated, err := meter.Int64Counter(
		"cache.invalidation.keys",
		metric.WithDescription("Number of cache keys removed by invalidation"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"cache.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:         meter,
		accessCount:   accessCount,
		accessLatency: accessLatency,
		invalidated:   invalidated,
		transitions:   transitions,
	}, nil
}

// RecordAccess records a cache access outcome.
func (m *metricsImpl) RecordAccess(ctx context.Context, outcome string, duration time.Duration) {
	opt := metric.WithAttributes(attribute.String("outcome", outcome))
	m.accessCount.Add(ctx, 1, opt)
	m.accessLatency.Record(ctx, float64(duration.Microseconds())/1000.0, opt)
}

// RecordInvalidation records keys removed by an invalidation.
func (m *metricsImpl) RecordInvalidation(ctx context.Context, kind string, keys int) {
	m.invalidated.Add(ctx, int64(keys), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBreakerTransition records a breaker state change.
func (m *metricsImpl) RecordBreakerTransition(ctx context.Context, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// Ensure metricsImpl implements Metrics
var _ Metrics = (*metricsImpl)(nil)
