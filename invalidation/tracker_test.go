package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/cachekit/cache"
)

// brokenStore errors on every operation, simulating a dead backend.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("backend down")
}
func (brokenStore) Remove(context.Context, string) error          { return errors.New("backend down") }
func (brokenStore) RemoveByPattern(context.Context, string) error { return errors.New("backend down") }
func (brokenStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func newTestTracker(t *testing.T, config Config) (*Tracker, *cache.MemoryStore, *cache.KeyGenerator) {
	t.Helper()
	store := cache.NewMemoryStore()
	keys := cache.NewKeyGenerator(cache.Settings{})
	tracker, err := NewTracker(store, keys, config)
	if err != nil {
		t.Fatalf("NewTracker() error: %v", err)
	}
	return tracker, store, keys
}

// seed stores a value and tracks it for the given tables.
func seed(t *testing.T, tracker *Tracker, store *cache.MemoryStore, key string, tables ...string) {
	t.Helper()
	ctx := context.Background()
	if err := store.Set(ctx, key, []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set(%q) error: %v", key, err)
	}
	if err := tracker.TrackKey(ctx, tables, key); err != nil {
		t.Fatalf("TrackKey(%q) error: %v", key, err)
	}
}

func TestNewTracker_Validation(t *testing.T) {
	keys := cache.NewKeyGenerator(cache.Settings{})

	if _, err := NewTracker(nil, keys, Config{}); err != ErrNilStore {
		t.Errorf("NewTracker(nil store) error = %v, want %v", err, ErrNilStore)
	}
	if _, err := NewTracker(cache.NewMemoryStore(), nil, Config{}); err != ErrNilKeyGenerator {
		t.Errorf("NewTracker(nil keys) error = %v, want %v", err, ErrNilKeyGenerator)
	}
}

func TestTracker_TrackAndGet(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t, Config{})

	seed(t, tracker, store, "cache:v1:users:find:a", "users")
	seed(t, tracker, store, "cache:v1:users:list:b", "users")

	tracked, err := tracker.GetTrackedKeys(ctx, "users")
	if err != nil {
		t.Fatalf("GetTrackedKeys() error: %v", err)
	}
	if len(tracked) != 2 {
		t.Fatalf("tracked %d keys, want 2: %v", len(tracked), tracked)
	}
}

func TestTracker_TrackKeyDeduplicates(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t, Config{})

	seed(t, tracker, store, "cache:v1:users:find:a", "users")
	if err := tracker.TrackKey(ctx, []string{"users"}, "cache:v1:users:find:a"); err != nil {
		t.Fatalf("TrackKey() error: %v", err)
	}

	tracked, err := tracker.GetTrackedKeys(ctx, "users")
	if err != nil {
		t.Fatalf("GetTrackedKeys() error: %v", err)
	}
	if len(tracked) != 1 {
		t.Errorf("tracked %d keys after duplicate track, want 1", len(tracked))
	}
}

func TestTracker_TrackKeyConcurrent(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker(t, Config{})

	// Every tracked key must survive concurrent tracking of the same
	// table; a lost update here means a key that is never invalidated.
	const workers = 256
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("cache:v1:users:find:%03d", i)
			if err := tracker.TrackKey(ctx, []string{"users"}, key); err != nil {
				t.Errorf("TrackKey(%q) error: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	tracked, err := tracker.GetTrackedKeys(ctx, "users")
	if err != nil {
		t.Fatalf("GetTrackedKeys() error: %v", err)
	}
	if len(tracked) != workers {
		t.Fatalf("tracked %d of %d concurrently tracked keys", len(tracked), workers)
	}
}

func TestTracker_TrackKeyValidation(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker(t, Config{})

	if err := tracker.TrackKey(ctx, []string{"users"}, ""); err != cache.ErrInvalidKey {
		t.Errorf("TrackKey(empty key) error = %v, want %v", err, cache.ErrInvalidKey)
	}
	if err := tracker.TrackKey(ctx, []string{""}, "cache:v1:k"); err != ErrEmptyTable {
		t.Errorf("TrackKey(empty table) error = %v, want %v", err, ErrEmptyTable)
	}
}

func TestTracker_MultiTableTracking(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t, Config{})

	seed(t, tracker, store, "cache:v1:orders:byuser:a", "orders", "users")

	for _, table := range []string{"orders", "users"} {
		tracked, err := tracker.GetTrackedKeys(ctx, table)
		if err != nil {
			t.Fatalf("GetTrackedKeys(%q) error: %v", table, err)
		}
		if len(tracked) != 1 {
			t.Errorf("table %q tracks %d keys, want 1", table, len(tracked))
		}
	}
}

func TestTracker_Invalidate(t *testing.T) {
	ctx := context.Background()
	tracker, store, keys := newTestTracker(t, Config{})

	seed(t, tracker, store, "cache:v1:users:find:a", "users")
	seed(t, tracker, store, "cache:v1:users:list:b", "users")
	seed(t, tracker, store, "cache:v1:orders:find:c", "orders")

	res, err := tracker.Invalidate(ctx, "users")
	if err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}
	if res.Invalidated != 2 || res.Attempted != 2 {
		t.Errorf("Result = %+v, want {Invalidated:2 Attempted:2}", res)
	}

	if _, found, _ := store.Get(ctx, "cache:v1:users:find:a"); found {
		t.Error("users key survived invalidation")
	}
	if _, found, _ := store.Get(ctx, "cache:v1:orders:find:c"); !found {
		t.Error("orders key removed by users invalidation")
	}
	// The tracking set itself is gone.
	if ok, _ := store.Exists(ctx, keys.GenerateTrackingKey("users")); ok {
		t.Error("tracking set survived invalidation")
	}
}

func TestTracker_InvalidateEmptyTable(t *testing.T) {
	tracker, _, _ := newTestTracker(t, Config{})
	if _, err := tracker.Invalidate(context.Background(), ""); err != ErrEmptyTable {
		t.Errorf("Invalidate(\"\") error = %v, want %v", err, ErrEmptyTable)
	}
}

func TestTracker_InvalidateUntracked(t *testing.T) {
	tracker, _, _ := newTestTracker(t, Config{})
	res, err := tracker.Invalidate(context.Background(), "phantom")
	if err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}
	if res.Invalidated != 0 || res.Attempted != 0 {
		t.Errorf("Result = %+v, want zero", res)
	}
}

func TestTracker_InvalidateByPattern(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t, Config{})

	seed(t, tracker, store, "cache:v1:users:find:a", "users")
	seed(t, tracker, store, "cache:v1:orders:find:c", "orders")

	if err := tracker.InvalidateByPattern(ctx, "cache:v1:users:*"); err != nil {
		t.Fatalf("InvalidateByPattern() error: %v", err)
	}
	if _, found, _ := store.Get(ctx, "cache:v1:users:find:a"); found {
		t.Error("users key survived pattern invalidation")
	}
	if _, found, _ := store.Get(ctx, "cache:v1:orders:find:c"); !found {
		t.Error("orders key removed by unrelated pattern")
	}
}

func TestTracker_InvalidateWithRelated(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t, Config{})

	seed(t, tracker, store, "cache:v1:users:find:a", "users")
	seed(t, tracker, store, "cache:v1:orders:find:b", "orders")

	res, err := tracker.InvalidateWithRelated(ctx, "users", []string{"orders"}, 3)
	if err != nil {
		t.Fatalf("InvalidateWithRelated() error: %v", err)
	}
	if res.Invalidated != 2 {
		t.Errorf("Invalidated = %d, want 2", res.Invalidated)
	}
	if _, found, _ := store.Get(ctx, "cache:v1:orders:find:b"); found {
		t.Error("related table key survived invalidation")
	}
}

func TestTracker_InvalidateWithRelated_DepthBound(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t, Config{
		Relations: map[string][]string{"orders": {"shipments"}},
	})

	seed(t, tracker, store, "cache:v1:users:a", "users")
	seed(t, tracker, store, "cache:v1:orders:b", "orders")
	seed(t, tracker, store, "cache:v1:shipments:c", "shipments")

	// Depth 2: users and orders, but not orders' own relations.
	res, err := tracker.InvalidateWithRelated(ctx, "users", []string{"orders"}, 2)
	if err != nil {
		t.Fatalf("InvalidateWithRelated() error: %v", err)
	}
	if res.Invalidated != 2 {
		t.Errorf("Invalidated = %d, want 2", res.Invalidated)
	}
	if _, found, _ := store.Get(ctx, "cache:v1:shipments:c"); !found {
		t.Error("shipments invalidated beyond the depth bound")
	}

	// Depth 1: only the root.
	seed(t, tracker, store, "cache:v1:users:a2", "users")
	seed(t, tracker, store, "cache:v1:orders:b2", "orders")
	res, err = tracker.InvalidateWithRelated(ctx, "users", []string{"orders"}, 1)
	if err != nil {
		t.Fatalf("InvalidateWithRelated() error: %v", err)
	}
	if res.Invalidated != 1 {
		t.Errorf("Invalidated = %d at depth 1, want 1", res.Invalidated)
	}
}

func TestTracker_InvalidateWithRelated_CycleTerminates(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t, Config{
		Relations: map[string][]string{
			"users":  {"orders"},
			"orders": {"users"},
		},
	})

	seed(t, tracker, store, "cache:v1:users:a", "users")
	seed(t, tracker, store, "cache:v1:orders:b", "orders")

	res, err := tracker.InvalidateWithRelated(ctx, "users", []string{"orders"}, 10)
	if err != nil {
		t.Fatalf("InvalidateWithRelated() error: %v", err)
	}
	// Each table visited exactly once despite the cycle.
	if res.Invalidated != 2 || res.Attempted != 2 {
		t.Errorf("Result = %+v, want {Invalidated:2 Attempted:2}", res)
	}
}

func TestTracker_InvalidateBatch(t *testing.T) {
	ctx := context.Background()
	tracker, store, keys := newTestTracker(t, Config{BatchSize: 2})

	seed(t, tracker, store, "cache:v1:users:a", "users")
	seed(t, tracker, store, "cache:v1:users:b", "users")
	seed(t, tracker, store, "cache:v1:orders:c", "orders")
	// Shared key tracked under both tables must count once.
	seed(t, tracker, store, "cache:v1:joined:d", "users", "orders")

	res, err := tracker.InvalidateBatch(ctx, []string{"users", "orders"})
	if err != nil {
		t.Fatalf("InvalidateBatch() error: %v", err)
	}
	if res.Invalidated != 4 || res.Attempted != 4 {
		t.Errorf("Result = %+v, want {Invalidated:4 Attempted:4}", res)
	}

	for _, key := range []string{"cache:v1:users:a", "cache:v1:users:b", "cache:v1:orders:c", "cache:v1:joined:d"} {
		if _, found, _ := store.Get(ctx, key); found {
			t.Errorf("key %q survived batch invalidation", key)
		}
	}
	for _, table := range []string{"users", "orders"} {
		if ok, _ := store.Exists(ctx, keys.GenerateTrackingKey(table)); ok {
			t.Errorf("tracking set for %q survived batch invalidation", table)
		}
	}
}

func TestTracker_InvalidateBatch_Empty(t *testing.T) {
	tracker, _, _ := newTestTracker(t, Config{})
	res, err := tracker.InvalidateBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("InvalidateBatch(nil) error: %v", err)
	}
	if res.Invalidated != 0 || res.Attempted != 0 {
		t.Errorf("Result = %+v, want zero", res)
	}
}

func TestTracker_InvalidateByPatternBatch(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t, Config{})

	seed(t, tracker, store, "cache:v1:users:a", "users")
	seed(t, tracker, store, "cache:v1:orders:b", "orders")
	seed(t, tracker, store, "cache:v1:keep:c", "keep")

	err := tracker.InvalidateByPatternBatch(ctx, []string{"cache:v1:users:*", "cache:v1:orders:*"})
	if err != nil {
		t.Fatalf("InvalidateByPatternBatch() error: %v", err)
	}
	if _, found, _ := store.Get(ctx, "cache:v1:users:a"); found {
		t.Error("users key survived batch pattern invalidation")
	}
	if _, found, _ := store.Get(ctx, "cache:v1:keep:c"); !found {
		t.Error("unrelated key removed")
	}
}

func TestTracker_SilentFallback(t *testing.T) {
	ctx := context.Background()
	keys := cache.NewKeyGenerator(cache.Settings{})

	var hookErr error
	tracker, err := NewTracker(brokenStore{}, keys, Config{
		SilentFallback: true,
		OnError:        func(e error) { hookErr = e },
	})
	if err != nil {
		t.Fatalf("NewTracker() error: %v", err)
	}

	if err := tracker.TrackKey(ctx, []string{"users"}, "cache:v1:k"); err != nil {
		t.Errorf("TrackKey() error = %v, want nil under silent fallback", err)
	}
	if hookErr == nil {
		t.Error("OnError hook was not invoked for the suppressed error")
	}

	if _, err := tracker.Invalidate(ctx, "users"); err != nil {
		t.Errorf("Invalidate() error = %v, want nil under silent fallback", err)
	}
	if err := tracker.InvalidateByPattern(ctx, "cache:*"); err != nil {
		t.Errorf("InvalidateByPattern() error = %v, want nil under silent fallback", err)
	}
}

func TestTracker_BackendErrorPropagates(t *testing.T) {
	ctx := context.Background()
	keys := cache.NewKeyGenerator(cache.Settings{})
	tracker, err := NewTracker(brokenStore{}, keys, Config{})
	if err != nil {
		t.Fatalf("NewTracker() error: %v", err)
	}

	if err := tracker.TrackKey(ctx, []string{"users"}, "cache:v1:k"); err == nil {
		t.Error("TrackKey() error = nil, want backend error")
	}
	if _, err := tracker.Invalidate(ctx, "users"); err == nil {
		t.Error("Invalidate() error = nil, want backend error")
	}
}

func TestTracker_CorruptTrackingSet(t *testing.T) {
	ctx := context.Background()
	tracker, store, keys := newTestTracker(t, Config{})

	trackingKey := keys.GenerateTrackingKey("users")
	if err := store.Set(ctx, trackingKey, []byte("not json"), time.Minute); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	tracked, err := tracker.GetTrackedKeys(ctx, "users")
	if err != nil {
		t.Fatalf("GetTrackedKeys() error = %v, want nil for corrupt set", err)
	}
	if len(tracked) != 0 {
		t.Errorf("tracked = %v, want empty for corrupt set", tracked)
	}

	// The corrupt set is rebuilt on the next write.
	if err := tracker.TrackKey(ctx, []string{"users"}, "cache:v1:k"); err != nil {
		t.Fatalf("TrackKey() error: %v", err)
	}
	tracked, err = tracker.GetTrackedKeys(ctx, "users")
	if err != nil {
		t.Fatalf("GetTrackedKeys() error: %v", err)
	}
	if len(tracked) != 1 {
		t.Errorf("tracked %d keys after rebuild, want 1", len(tracked))
	}
}

func TestTracker_Apply(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t, Config{})

	seed(t, tracker, store, "cache:v1:users:a", "users")

	res, err := tracker.Apply(ctx, Rule{TableName: "users", Type: RuleAll})
	if err != nil {
		t.Fatalf("Apply(RuleAll) error: %v", err)
	}
	if res.Invalidated != 1 {
		t.Errorf("Apply(RuleAll) Invalidated = %d, want 1", res.Invalidated)
	}

	seed(t, tracker, store, "cache:v1:users:b", "users")
	if _, err := tracker.Apply(ctx, Rule{Type: RulePattern, Pattern: "cache:v1:users:*"}); err != nil {
		t.Fatalf("Apply(RulePattern) error: %v", err)
	}
	if _, found, _ := store.Get(ctx, "cache:v1:users:b"); found {
		t.Error("key survived pattern rule")
	}

	if _, err := tracker.Apply(ctx, Rule{TableName: "users", Type: RuleType(42)}); !errors.Is(err, ErrUnknownRuleType) {
		t.Errorf("Apply(unknown) error = %v, want %v", err, ErrUnknownRuleType)
	}
}
