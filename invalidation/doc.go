// Package invalidation keeps the cache consistent as the data it caches
// changes.
//
// A Tracker maintains, per logical data source ("table"), the set of cache
// keys whose values depend on it, and removes those keys when the table
// changes - singly, by glob pattern, in batches, or recursively across
// related tables with cycle and depth control. A Broadcaster wraps a
// Tracker and mirrors every invalidation across a fleet of processes over
// a pub/sub channel, applying inbound peer events locally without
// re-broadcasting and discarding its own echoes.
//
// Invalidation is idempotent, so duplicated or reordered messages are
// harmless; delivery is at-least-once and consistency is eventual.
package invalidation
