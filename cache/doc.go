// Package cache provides deterministic cache-key generation and the
// key-value store contract the engine runs against.
//
// It provides a Store interface with memory and Redis implementations,
// xxhash-based parameter hashing with canonical normalization, TTL policies,
// and an execute-through middleware that ties key generation, circuit
// breaking, dependency tracking and adaptive TTLs together for upstream
// callers.
package cache
