package cache

import "time"

// Policy configures caching behavior for the middleware.
type Policy struct {
	// DefaultTTL is the TTL to use when none is specified.
	// If zero, caching is disabled by default.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Override and adaptive TTLs are
	// clamped to this. If zero, no maximum is enforced.
	MaxTTL time.Duration

	// AllowUnsafe permits caching operations carrying unsafe tags
	// (write, mutation, etc.)
	AllowUnsafe bool
}

// DefaultPolicy returns the default caching policy.
// DefaultTTL: 30 minutes, MaxTTL: 24 hours, AllowUnsafe: false
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL:  30 * time.Minute,
		MaxTTL:      24 * time.Hour,
		AllowUnsafe: false,
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache returns true if caching is enabled by this policy.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
