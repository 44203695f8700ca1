package adaptive

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jonwraymond/cachekit/observe"
)

// AccessKind classifies a cache access.
type AccessKind int

const (
	// AccessHit is a read that found a value.
	AccessHit AccessKind = iota
	// AccessMiss is a read that found nothing.
	AccessMiss
	// AccessSet is a write.
	AccessSet
)

// String returns the string representation of the access kind.
func (k AccessKind) String() string {
	switch k {
	case AccessHit:
		return "hit"
	case AccessMiss:
		return "miss"
	case AccessSet:
		return "set"
	default:
		return "unknown"
	}
}

// Config configures the manager. Thresholds are deployment-tunable; the
// zero value receives defaults at construction.
type Config struct {
	// BaseTTL is the starting point for adaptive TTL computation.
	// Default: 30 minutes
	BaseTTL time.Duration

	// MinTTL and MaxTTL clamp every computed TTL.
	// Defaults: 5 minutes and 24 hours
	MinTTL time.Duration
	MaxTTL time.Duration

	// HotKeyThreshold is the access rate (per minute) at which a key earns
	// the full TTL growth factor. Default: 10
	HotKeyThreshold float64

	// MaxHotKeys caps the hot-key candidate set regardless of how many are
	// requested. Default: 100
	MaxHotKeys int

	// RetentionWindow is how long idle key metrics are kept, and how
	// recently a key must have been accessed to rank as hot.
	// Default: 24 hours
	RetentionWindow time.Duration

	// SweepInterval is how often the background sweep purges idle metrics.
	// Default: 1 minute
	SweepInterval time.Duration

	// HistoryLimit bounds the per-key recent-access timestamp window.
	// Default: 1000
	HistoryLimit int
}

// HotKeyInfo describes one hot key. Derived on demand, never stored.
type HotKeyInfo struct {
	Key             string
	AccessCount     int64
	AccessRate      float64 // accesses per minute
	FirstAccess     time.Time
	LastAccess      time.Time
	AverageInterval time.Duration
	Priority        float64
}

// keyMetrics tracks raw access traffic for one key.
type keyMetrics struct {
	mu          sync.Mutex
	firstAccess time.Time
	lastAccess  time.Time
	accessCount int64
	history     []time.Time
}

// ttlMetrics tracks hit/miss traffic for one key. Separate from keyMetrics
// because TTL adaptation only cares about hit ratio, not raw traffic.
type ttlMetrics struct {
	mu     sync.Mutex
	hits   int64
	misses int64
}

// Manager observes cache accesses and derives hot-key rankings, adaptive
// TTLs and eviction candidates from them.
//
// The manager is a selector, not a deleter: eviction returns keys and drops
// their metrics, while removing the actual cache entries stays the caller's
// responsibility. Metric bookkeeping never blocks or fails the cache path.
type Manager struct {
	config Config
	logger observe.Logger

	access sync.Map // key -> *keyMetrics
	ttl    sync.Map // key -> *ttlMetrics

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}

	now func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger observe.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a manager with the given config. Zero-valued config
// fields receive defaults.
func NewManager(config Config, opts ...ManagerOption) *Manager {
	// Apply defaults
	if config.BaseTTL <= 0 {
		config.BaseTTL = 30 * time.Minute
	}
	if config.MinTTL <= 0 {
		config.MinTTL = 5 * time.Minute
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = 24 * time.Hour
	}
	if config.HotKeyThreshold <= 0 {
		config.HotKeyThreshold = 10
	}
	if config.MaxHotKeys <= 0 {
		config.MaxHotKeys = 100
	}
	if config.RetentionWindow <= 0 {
		config.RetentionWindow = 24 * time.Hour
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 1000
	}

	m := &Manager{
		config: config,
		logger: observe.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("adaptive")
	return m
}

// RecordAccess updates the key's metrics for one access.
func (m *Manager) RecordAccess(key string, kind AccessKind) {
	now := m.now()

	v, _ := m.access.LoadOrStore(key, &keyMetrics{})
	km := v.(*keyMetrics)
	km.mu.Lock()
	if km.firstAccess.IsZero() {
		km.firstAccess = now
	}
	km.lastAccess = now
	km.accessCount++
	km.history = append(km.history, now)
	if len(km.history) > m.config.HistoryLimit {
		km.history = km.history[len(km.history)-m.config.HistoryLimit:]
	}
	km.mu.Unlock()

	if kind == AccessSet {
		return
	}

	tv, _ := m.ttl.LoadOrStore(key, &ttlMetrics{})
	tm := tv.(*ttlMetrics)
	tm.mu.Lock()
	if kind == AccessHit {
		tm.hits++
	} else {
		tm.misses++
	}
	tm.mu.Unlock()
}

// RecordHit records a cache hit.
func (m *Manager) RecordHit(key string) { m.RecordAccess(key, AccessHit) }

// RecordMiss records a cache miss.
func (m *Manager) RecordMiss(key string) { m.RecordAccess(key, AccessMiss) }

// RecordSet records a cache write.
func (m *Manager) RecordSet(key string) { m.RecordAccess(key, AccessSet) }

// Warm seeds metrics for keys about to be populated, recording a Set access
// for each. Loading the actual values is the caller's responsibility.
func (m *Manager) Warm(keys []string) {
	for _, key := range keys {
		m.RecordAccess(key, AccessSet)
	}
}

// GetHotKeys returns up to topN keys ranked by access rate descending,
// restricted to keys accessed within the retention window and capped at
// the configured candidate maximum regardless of topN.
func (m *Manager) GetHotKeys(topN int) []HotKeyInfo {
	if topN <= 0 {
		return nil
	}
	now := m.now()
	cutoff := now.Add(-m.config.RetentionWindow)

	var candidates []HotKeyInfo
	m.access.Range(func(k, v any) bool {
		km := v.(*keyMetrics)
		km.mu.Lock()
		first, last, count := km.firstAccess, km.lastAccess, km.accessCount
		km.mu.Unlock()

		if last.Before(cutoff) {
			return true
		}

		info := HotKeyInfo{
			Key:         k.(string),
			AccessCount: count,
			AccessRate:  accessRate(count, first, now),
			FirstAccess: first,
			LastAccess:  last,
		}
		if count > 1 {
			info.AverageInterval = last.Sub(first) / time.Duration(count-1)
		}
		info.Priority = 0.7*info.AccessRate + 0.3*recencyScore(last, now)
		candidates = append(candidates, info)
		return true
	})

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].AccessRate > candidates[j].AccessRate
	})
	if len(candidates) > m.config.MaxHotKeys {
		candidates = candidates[:m.config.MaxHotKeys]
	}
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates
}

// CalculateTTL computes the adaptive TTL for a key. A key without metrics
// gets the base TTL unchanged; otherwise frequently-hit keys earn up to 2x
// the base and miss-heavy keys shrink toward the floor. The result is
// always within [MinTTL, MaxTTL].
func (m *Manager) CalculateTTL(key string) time.Duration {
	tv, ok := m.ttl.Load(key)
	if !ok {
		return m.config.BaseTTL
	}
	tm := tv.(*ttlMetrics)
	tm.mu.Lock()
	hits, misses := tm.hits, tm.misses
	tm.mu.Unlock()

	total := hits + misses
	if total == 0 {
		return m.config.BaseTTL
	}
	hitRatio := float64(hits) / float64(total)

	rate := 0.0
	if v, ok := m.access.Load(key); ok {
		km := v.(*keyMetrics)
		km.mu.Lock()
		rate = accessRate(km.accessCount, km.firstAccess, m.now())
		km.mu.Unlock()
	}

	accessWeight := rate / m.config.HotKeyThreshold
	if accessWeight > 2.0 {
		accessWeight = 2.0
	}
	hitRateWeight := hitRatio
	if hitRateWeight < 0.5 {
		hitRateWeight = 0.5
	}

	ttl := time.Duration(float64(m.config.BaseTTL) * accessWeight * hitRateWeight)
	if ttl < m.config.MinTTL {
		ttl = m.config.MinTTL
	}
	if ttl > m.config.MaxTTL {
		ttl = m.config.MaxTTL
	}
	return ttl
}

// EvictByPolicy selects up to maxItems keys by policy and drops their
// tracked metrics. Deleting the cache entries themselves is the caller's
// responsibility.
func (m *Manager) EvictByPolicy(policy EvictionPolicy, maxItems int) ([]string, error) {
	if maxItems <= 0 {
		return nil, nil
	}
	now := m.now()

	type entry struct {
		key   string
		first time.Time
		last  time.Time
		count int64
	}
	var entries []entry
	m.access.Range(func(k, v any) bool {
		km := v.(*keyMetrics)
		km.mu.Lock()
		entries = append(entries, entry{k.(string), km.firstAccess, km.lastAccess, km.accessCount})
		km.mu.Unlock()
		return true
	})

	switch policy {
	case PolicyLRU:
		sort.Slice(entries, func(i, j int) bool { return entries[i].last.Before(entries[j].last) })
	case PolicyLFU:
		sort.Slice(entries, func(i, j int) bool { return entries[i].count < entries[j].count })
	case PolicyFIFO:
		sort.Slice(entries, func(i, j int) bool { return entries[i].first.Before(entries[j].first) })
	case PolicyRandom:
		rand.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
	case PolicyTTL:
		expired := entries[:0]
		for _, e := range entries {
			if now.Sub(e.last) > m.config.BaseTTL {
				expired = append(expired, e)
			}
		}
		entries = expired
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolicy, policy)
	}

	if len(entries) > maxItems {
		entries = entries[:maxItems]
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
		m.access.Delete(e.key)
		m.ttl.Delete(e.key)
	}
	return keys, nil
}

// Start launches the background sweep. Idempotent.
func (m *Manager) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
}

// Stop cancels the background sweep and waits for it to exit. Idempotent.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop = nil
	m.done = nil
}

func (m *Manager) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep purges metrics idle past the retention window and logs the current
// hot keys.
func (m *Manager) sweep() {
	cutoff := m.now().Add(-m.config.RetentionWindow)
	purged := 0
	m.access.Range(func(k, v any) bool {
		km := v.(*keyMetrics)
		km.mu.Lock()
		idle := km.lastAccess.Before(cutoff)
		km.mu.Unlock()
		if idle {
			m.access.Delete(k)
			m.ttl.Delete(k)
			purged++
		}
		return true
	})

	ctx := context.Background()
	if purged > 0 {
		m.logger.Debug(ctx, "purged idle key metrics", observe.Field{Key: "purged", Value: purged})
	}
	if hot := m.GetHotKeys(10); len(hot) > 0 {
		names := make([]string, len(hot))
		for i, h := range hot {
			names[i] = h.Key
		}
		m.logger.Debug(ctx, "current hot keys", observe.Field{Key: "keys", Value: names})
	}
}

// accessRate returns accesses per minute, or the raw count when the key is
// younger than a minute (avoids the division blow-up for brand-new keys).
func accessRate(count int64, first, now time.Time) float64 {
	elapsed := now.Sub(first)
	if elapsed < time.Minute {
		return float64(count)
	}
	return float64(count) / elapsed.Minutes()
}

// recencyScore decays linearly from 1 for a just-touched key to 0 at one
// hour since last access.
func recencyScore(last, now time.Time) float64 {
	minutes := now.Sub(last).Minutes()
	score := (60 - minutes) / 60
	if score < 0 {
		return 0
	}
	return score
}
