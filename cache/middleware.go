package cache

import (
	"context"
	"strings"
	"time"

	"github.com/jonwraymond/cachekit/observe"
)

// LoaderFunc produces the value for an operation on a cache miss.
type LoaderFunc func(ctx context.Context) ([]byte, error)

// SkipRule determines whether to skip caching for a given operation.
// Returns true if caching should be skipped.
type SkipRule func(operationID string, tags []string) bool

// UnsafeTags are tags that indicate an operation has side effects and
// should not be cached.
var UnsafeTags = []string{"write", "danger", "unsafe", "mutation", "delete"}

// DefaultSkipRule skips caching for operations with unsafe tags.
// Tag matching is case-insensitive.
func DefaultSkipRule(_ string, tags []string) bool {
	for _, tag := range tags {
		tagLower := strings.ToLower(tag)
		for _, unsafe := range UnsafeTags {
			if tagLower == unsafe {
				return true
			}
		}
	}
	return false
}

// Breaker guards store operations. Satisfied by resilience.CircuitBreaker.
type Breaker interface {
	Do(ctx context.Context, operation string, op func(context.Context) error, fallback func() error) error
}

// Tracker associates cache keys with the tables their values depend on.
// Satisfied by invalidation.Tracker.
type Tracker interface {
	TrackKey(ctx context.Context, tableNames []string, cacheKey string) error
}

// AccessRecorder observes cache access outcomes.
// Satisfied by adaptive.Manager.
type AccessRecorder interface {
	RecordHit(key string)
	RecordMiss(key string)
	RecordSet(key string)
}

// TTLAdvisor computes a per-key TTL from observed access patterns.
// Satisfied by adaptive.Manager.
type TTLAdvisor interface {
	CalculateTTL(key string) time.Duration
}

// Middleware is the execute-through facade over the cache engine: it derives
// the key, reads and writes the store through the circuit breaker, reports
// accesses, and tracks table dependencies on writes.
//
// Optional collaborators (breaker, tracker, recorder, advisor) simply
// disable their behavior when absent.
type Middleware struct {
	store    Store
	keys     *KeyGenerator
	policy   Policy
	skipRule SkipRule
	breaker  Breaker
	tracker  Tracker
	recorder AccessRecorder
	advisor  TTLAdvisor
	logger   observe.Logger
	metrics  observe.Metrics
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithBreaker guards store access with a circuit breaker.
func WithBreaker(b Breaker) MiddlewareOption {
	return func(m *Middleware) { m.breaker = b }
}

// WithTracker enables table dependency tracking on writes.
func WithTracker(t Tracker) MiddlewareOption {
	return func(m *Middleware) { m.tracker = t }
}

// WithRecorder reports hits, misses and sets to an access recorder.
func WithRecorder(r AccessRecorder) MiddlewareOption {
	return func(m *Middleware) { m.recorder = r }
}

// WithTTLAdvisor computes per-key TTLs instead of the policy default.
func WithTTLAdvisor(a TTLAdvisor) MiddlewareOption {
	return func(m *Middleware) { m.advisor = a }
}

// WithSkipRule overrides the default unsafe-tag skip rule.
func WithSkipRule(rule SkipRule) MiddlewareOption {
	return func(m *Middleware) { m.skipRule = rule }
}

// WithLogger sets the middleware logger.
func WithLogger(logger observe.Logger) MiddlewareOption {
	return func(m *Middleware) { m.logger = logger }
}

// WithMetrics reports access outcomes and store round-trip durations to a
// metrics sink.
func WithMetrics(metrics observe.Metrics) MiddlewareOption {
	return func(m *Middleware) { m.metrics = metrics }
}

// NewMiddleware creates a cache middleware over the given store.
func NewMiddleware(store Store, keys *KeyGenerator, policy Policy, opts ...MiddlewareOption) (*Middleware, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if keys == nil {
		keys = NewKeyGenerator(Settings{})
	}

	m := &Middleware{
		store:    store,
		keys:     keys,
		policy:   policy,
		skipRule: DefaultSkipRule,
		logger:   observe.NewNopLogger(),
		metrics:  observe.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ExecuteOptions carries per-invocation caching hints.
type ExecuteOptions struct {
	// Tables are the logical data sources the result depends on; the key
	// is tracked under each so table invalidation reaches it.
	Tables []string

	// Tags feed the skip rule.
	Tags []string

	// TTL overrides the computed TTL when positive.
	TTL time.Duration
}

// Execute runs the operation with caching.
// On cache hit, returns the cached result without calling the loader.
// On cache miss, calls the loader and caches the result.
// Errors are NOT cached. A degraded store or an open breaker degrades to
// bypass-cache behavior rather than failing the call.
func (m *Middleware) Execute(
	ctx context.Context,
	operationID, action string,
	parameters map[string]any,
	opts ExecuteOptions,
	loader LoaderFunc,
) ([]byte, error) {
	if !m.policy.AllowUnsafe && m.skipRule(operationID, opts.Tags) {
		return loader(ctx)
	}
	if !m.policy.ShouldCache() {
		return loader(ctx)
	}

	key := m.keys.GenerateKey(operationID, action, parameters)

	var (
		value []byte
		found bool
	)
	// The fallback turns breaker-open and backend failure into a miss, so
	// the request path never depends on the cache being up.
	getStart := time.Now()
	err := m.throughBreaker(ctx, "cache.get",
		func(ctx context.Context) error {
			v, ok, err := m.store.Get(ctx, key)
			if err != nil {
				return err
			}
			value, found = v, ok
			return nil
		},
		func() error {
			found = false
			return nil
		},
	)
	getLatency := time.Since(getStart)
	if err != nil {
		m.logger.Warn(ctx, "cache get degraded", observe.Field{Key: "key", Value: key}, observe.Field{Key: "error", Value: err.Error()})
		found = false
	}

	if found {
		m.recordHit(key)
		m.metrics.RecordAccess(ctx, "hit", getLatency)
		return value, nil
	}
	m.recordMiss(key)
	m.metrics.RecordAccess(ctx, "miss", getLatency)

	result, err := loader(ctx)
	if err != nil {
		return result, err
	}

	ttl := opts.TTL
	if ttl <= 0 && m.advisor != nil {
		ttl = m.advisor.CalculateTTL(key)
	}
	ttl = m.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return result, nil
	}

	// The no-op fallback absorbs breaker-open and backend failure, so a
	// nil error alone does not mean the value was stored. Only a
	// confirmed store gets recorded and tracked; otherwise the counts
	// would claim sets that never happened and invalidation would track
	// absent keys.
	stored := false
	setStart := time.Now()
	err = m.throughBreaker(ctx, "cache.set",
		func(ctx context.Context) error {
			if err := m.store.Set(ctx, key, result, ttl); err != nil {
				return err
			}
			stored = true
			return nil
		},
		func() error { return nil },
	)
	if err != nil {
		m.logger.Warn(ctx, "cache set failed", observe.Field{Key: "key", Value: key}, observe.Field{Key: "error", Value: err.Error()})
		return result, nil
	}
	if !stored {
		m.logger.Warn(ctx, "cache set degraded", observe.Field{Key: "key", Value: key})
		return result, nil
	}
	m.recordSet(key)
	m.metrics.RecordAccess(ctx, "set", time.Since(setStart))

	if m.tracker != nil && len(opts.Tables) > 0 {
		if err := m.tracker.TrackKey(ctx, opts.Tables, key); err != nil {
			m.logger.Warn(ctx, "key tracking failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "tables", Value: opts.Tables},
				observe.Field{Key: "error", Value: err.Error()})
		}
	}

	return result, nil
}

// Key exposes the generated key for an invocation, for callers that need it
// outside Execute (manual invalidation, diagnostics).
func (m *Middleware) Key(operationID, action string, parameters map[string]any) string {
	return m.keys.GenerateKey(operationID, action, parameters)
}

func (m *Middleware) throughBreaker(ctx context.Context, name string, op func(context.Context) error, fallback func() error) error {
	if m.breaker == nil {
		if err := op(ctx); err != nil {
			return fallback()
		}
		return nil
	}
	return m.breaker.Do(ctx, name, op, fallback)
}

func (m *Middleware) recordHit(key string) {
	if m.recorder != nil {
		m.recorder.RecordHit(key)
	}
}

func (m *Middleware) recordMiss(key string) {
	if m.recorder != nil {
		m.recorder.RecordMiss(key)
	}
}

func (m *Middleware) recordSet(key string) {
	if m.recorder != nil {
		m.recorder.RecordSet(key)
	}
}
