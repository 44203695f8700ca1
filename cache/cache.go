package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilStore   = errors.New("cache: store is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Store is the interface for the underlying key-value backend.
//
// Values are opaque serialized blobs; serialization is the caller's concern.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: methods must honor cancellation/deadlines where applicable.
//   - Errors: Get returns (nil, false, nil) on a clean miss; a non-nil error
//     means the backend itself failed. Remove is idempotent.
type Store interface {
	// Get retrieves a value. Returns (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL. TTL<=0 means no caching.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Remove deletes a value. Idempotent - no error on miss.
	Remove(ctx context.Context, key string) error

	// RemoveByPattern deletes every key matching the glob pattern
	// ('*' matches any run, '?' matches a single character).
	RemoveByPattern(ctx context.Context, pattern string) error

	// Exists reports whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
