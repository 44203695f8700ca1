package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/cachekit/cache"
	"github.com/jonwraymond/cachekit/observe"
)

// Sentinel errors for invalidation operations.
var (
	ErrNilStore        = errors.New("invalidation: store is nil")
	ErrNilKeyGenerator = errors.New("invalidation: key generator is nil")
	ErrEmptyTable      = errors.New("invalidation: table name is empty")
)

// Config configures the tracker.
type Config struct {
	// DefaultExpiration mirrors the cache's default TTL. Tracking sets are
	// stored with twice this duration so they outlive every entry they
	// track. Default: 30 minutes
	DefaultExpiration time.Duration

	// MaxRelatedDepth bounds recursive related-table invalidation when the
	// caller does not pass an explicit depth. Default: 3
	MaxRelatedDepth int

	// BatchSize is the number of keys deleted per batch during bulk
	// invalidation, bounding backend load.
	// Default: 2x available parallelism
	BatchSize int

	// Relations maps a table to the tables whose cached data depends on
	// it, consumed by recursive invalidation beyond the first hop.
	Relations map[string][]string

	// SilentFallback swallows and logs backend errors instead of
	// propagating them. Per-key delete failures are always best-effort
	// regardless of this setting.
	SilentFallback bool

	// OnError is invoked for every error swallowed under SilentFallback.
	OnError func(error)
}

// Result reports how much an invalidation accomplished.
type Result struct {
	// Invalidated is the number of cache keys actually removed.
	Invalidated int

	// Attempted is the number of cache keys that were tracked.
	Attempted int
}

// Tracker maintains, per table, the set of cache keys whose values depend
// on it, and removes those keys when the table changes.
//
// Tracking sets live in the same store as the data, under keys derived by
// the key generator, with a TTL twice the default expiration. Concurrent
// invalidation of the same table is safe: removing an absent key is a
// no-op. Concurrent TrackKey calls for the same table are serialized
// within the process so no tracked key is lost to an interleaved
// read-modify-write; cross-process writers still race on the Get/Set
// store contract.
type Tracker struct {
	store   cache.Store
	keys    *cache.KeyGenerator
	config  Config
	logger  observe.Logger
	metrics observe.Metrics

	trackMu [trackingStripes]sync.Mutex
}

// trackingStripes is the number of mutexes the per-table write locks are
// striped over.
const trackingStripes = 64

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the tracker logger.
func WithTrackerLogger(logger observe.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = logger }
}

// WithTrackerMetrics reports invalidation counts to a metrics sink.
func WithTrackerMetrics(metrics observe.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = metrics }
}

// NewTracker creates a tracker over the given store and key generator.
func NewTracker(store cache.Store, keys *cache.KeyGenerator, config Config, opts ...TrackerOption) (*Tracker, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if keys == nil {
		return nil, ErrNilKeyGenerator
	}

	// Apply defaults
	if config.DefaultExpiration <= 0 {
		config.DefaultExpiration = 30 * time.Minute
	}
	if config.MaxRelatedDepth <= 0 {
		config.MaxRelatedDepth = 3
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 2 * runtime.GOMAXPROCS(0)
	}

	t := &Tracker{
		store:   store,
		keys:    keys,
		config:  config,
		logger:  observe.NewNopLogger(),
		metrics: observe.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithComponent("invalidation")
	return t, nil
}

// TrackKey records that cacheKey depends on each of the given tables.
func (t *Tracker) TrackKey(ctx context.Context, tableNames []string, cacheKey string) error {
	if err := cache.ValidateKey(cacheKey); err != nil {
		return err
	}

	ttl := 2 * t.config.DefaultExpiration
	for _, table := range tableNames {
		if table == "" {
			return ErrEmptyTable
		}
		if err := t.appendToSet(ctx, table, cacheKey, ttl); err != nil {
			return err
		}
	}
	return nil
}

// appendToSet adds cacheKey to the table's tracking set. The read-append-
// write cycle runs under a lock striped by tracking key so concurrent
// trackers of the same table cannot overwrite each other's additions.
func (t *Tracker) appendToSet(ctx context.Context, table, cacheKey string, ttl time.Duration) error {
	trackingKey := t.keys.GenerateTrackingKey(table)

	mu := &t.trackMu[xxhash.Sum64String(trackingKey)%trackingStripes]
	mu.Lock()
	defer mu.Unlock()

	tracked, err := t.readSet(ctx, trackingKey)
	if err != nil {
		return t.handleBackendError(ctx, fmt.Errorf("invalidation: read tracking set for %q: %w", table, err))
	}

	if !containsKey(tracked, cacheKey) {
		tracked = append(tracked, cacheKey)
	}
	data, err := json.Marshal(tracked)
	if err != nil {
		return fmt.Errorf("invalidation: encode tracking set for %q: %w", table, err)
	}
	if err := t.store.Set(ctx, trackingKey, data, ttl); err != nil {
		return t.handleBackendError(ctx, fmt.Errorf("invalidation: write tracking set for %q: %w", table, err))
	}
	return nil
}

// GetTrackedKeys returns the cache keys currently tracked for a table.
func (t *Tracker) GetTrackedKeys(ctx context.Context, tableName string) ([]string, error) {
	if tableName == "" {
		return nil, ErrEmptyTable
	}
	return t.readSet(ctx, t.keys.GenerateTrackingKey(tableName))
}

// Invalidate removes every cache key tracked for the table, then the
// tracking set itself. Per-key failures are logged and do not abort the
// batch: the result reports invalidated vs attempted.
func (t *Tracker) Invalidate(ctx context.Context, tableName string) (Result, error) {
	if tableName == "" {
		return Result{}, ErrEmptyTable
	}
	trackingKey := t.keys.GenerateTrackingKey(tableName)

	tracked, err := t.readSet(ctx, trackingKey)
	if err != nil {
		return Result{}, t.handleBackendError(ctx, fmt.Errorf("invalidation: read tracking set for %q: %w", tableName, err))
	}

	res := Result{Attempted: len(tracked)}
	for _, key := range tracked {
		if err := t.store.Remove(ctx, key); err != nil {
			t.logger.Warn(ctx, "failed to remove tracked key",
				observe.Field{Key: "table", Value: tableName},
				observe.Field{Key: "cache_key", Value: key},
				observe.Field{Key: "error", Value: err.Error()})
			continue
		}
		res.Invalidated++
	}

	if err := t.store.Remove(ctx, trackingKey); err != nil {
		if herr := t.handleBackendError(ctx, fmt.Errorf("invalidation: remove tracking set for %q: %w", tableName, err)); herr != nil {
			return res, herr
		}
	}

	t.metrics.RecordInvalidation(ctx, "table", res.Invalidated)
	t.logger.Debug(ctx, "table invalidated",
		observe.Field{Key: "table", Value: tableName},
		observe.Field{Key: "invalidated", Value: res.Invalidated},
		observe.Field{Key: "attempted", Value: res.Attempted})
	return res, nil
}

// InvalidateByPattern removes every cache key matching the glob pattern,
// delegating to the store's pattern-delete primitive.
func (t *Tracker) InvalidateByPattern(ctx context.Context, pattern string) error {
	if err := t.store.RemoveByPattern(ctx, pattern); err != nil {
		return t.handleBackendError(ctx, fmt.Errorf("invalidation: remove by pattern %q: %w", pattern, err))
	}
	// The store contract does not report how many keys a pattern removed.
	t.metrics.RecordInvalidation(ctx, "pattern", 0)
	return nil
}

// InvalidateWithRelated invalidates the table and walks its related tables
// depth-first, invalidating each visited table once. The visited set
// guarantees termination on cyclic relation graphs; expansion stops at
// maxDepth (the configured default when maxDepth <= 0).
func (t *Tracker) InvalidateWithRelated(ctx context.Context, tableName string, relatedTables []string, maxDepth int) (Result, error) {
	if tableName == "" {
		return Result{}, ErrEmptyTable
	}
	if maxDepth <= 0 {
		maxDepth = t.config.MaxRelatedDepth
	}

	visited := make(map[string]bool)
	var total Result

	var walk func(table string, related []string, depth int) error
	walk = func(table string, related []string, depth int) error {
		if visited[table] {
			return nil
		}
		visited[table] = true

		res, err := t.Invalidate(ctx, table)
		total.Invalidated += res.Invalidated
		total.Attempted += res.Attempted
		if err != nil {
			return err
		}

		if depth+1 >= maxDepth {
			return nil
		}
		for _, rel := range related {
			if rel == "" {
				continue
			}
			if err := walk(rel, t.config.Relations[rel], depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(tableName, relatedTables, 0); err != nil {
		return total, err
	}
	return total, nil
}

// InvalidateBatch invalidates several tables at once: tracking sets are
// fetched concurrently, the key set deduplicated, and deletes issued in
// fixed-size batches to bound backend load. Behaviorally equivalent to
// repeated single-table invalidation.
func (t *Tracker) InvalidateBatch(ctx context.Context, tableNames []string) (Result, error) {
	if len(tableNames) == 0 {
		return Result{}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	var mu sync.Mutex
	keySet := make(map[string]struct{})
	for _, table := range tableNames {
		if table == "" {
			return Result{}, ErrEmptyTable
		}
		table := table
		g.Go(func() error {
			tracked, err := t.readSet(gctx, t.keys.GenerateTrackingKey(table))
			if err != nil {
				return t.handleBackendError(gctx, fmt.Errorf("invalidation: read tracking set for %q: %w", table, err))
			}
			mu.Lock()
			for _, k := range tracked {
				keySet[k] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	all := make([]string, 0, len(keySet))
	for k := range keySet {
		all = append(all, k)
	}

	res := Result{Attempted: len(all)}
	var invalidated atomic.Int64
	for start := 0; start < len(all); start += t.config.BatchSize {
		end := start + t.config.BatchSize
		if end > len(all) {
			end = len(all)
		}
		bg, bctx := errgroup.WithContext(ctx)
		for _, key := range all[start:end] {
			key := key
			bg.Go(func() error {
				if err := t.store.Remove(bctx, key); err != nil {
					t.logger.Warn(bctx, "failed to remove tracked key",
						observe.Field{Key: "cache_key", Value: key},
						observe.Field{Key: "error", Value: err.Error()})
					return nil
				}
				invalidated.Add(1)
				return nil
			})
		}
		_ = bg.Wait()
	}
	res.Invalidated = int(invalidated.Load())

	for _, table := range tableNames {
		if err := t.store.Remove(ctx, t.keys.GenerateTrackingKey(table)); err != nil {
			if herr := t.handleBackendError(ctx, fmt.Errorf("invalidation: remove tracking set for %q: %w", table, err)); herr != nil {
				return res, herr
			}
		}
	}

	t.metrics.RecordInvalidation(ctx, "batch", res.Invalidated)
	return res, nil
}

// InvalidateByPatternBatch removes keys for several patterns concurrently.
func (t *Tracker) InvalidateByPatternBatch(ctx context.Context, patterns []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, pattern := range patterns {
		pattern := pattern
		g.Go(func() error {
			return t.InvalidateByPattern(gctx, pattern)
		})
	}
	return g.Wait()
}

// readSet loads and decodes a tracking set. Absent or corrupt sets read as
// empty; a corrupt set will be rebuilt on the next write.
func (t *Tracker) readSet(ctx context.Context, trackingKey string) ([]string, error) {
	data, found, err := t.store.Get(ctx, trackingKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		t.logger.Warn(ctx, "discarding corrupt tracking set",
			observe.Field{Key: "tracking_key", Value: trackingKey},
			observe.Field{Key: "error", Value: err.Error()})
		return nil, nil
	}
	return keys, nil
}

// handleBackendError applies the silent-fallback policy: swallow, log and
// hook under silent mode, propagate otherwise.
func (t *Tracker) handleBackendError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if !t.config.SilentFallback {
		return err
	}
	t.logger.Warn(ctx, "cache backend error suppressed", observe.Field{Key: "error", Value: err.Error()})
	if t.config.OnError != nil {
		t.config.OnError(err)
	}
	return nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
