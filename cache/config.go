package cache

import "time"

// Settings configures key generation and default cache behavior.
// The zero value is usable; omitted fields receive defaults at construction.
type Settings struct {
	// Namespace is the first segment of every generated key.
	// Default: "cache"
	Namespace string

	// Version is the second segment of every generated key. Bumping it
	// effectively invalidates everything generated under the old version.
	// Default: "v1"
	Version string

	// Separator joins key segments.
	// Default: ":"
	Separator string

	// TrackingPrefix is the segment used for table tracking keys.
	// Default: "tracking"
	TrackingPrefix string

	// DefaultExpiration is the TTL applied when callers do not override it.
	// Tracking sets live for twice this duration so they outlive the
	// entries they track.
	// Default: 30 minutes
	DefaultExpiration time.Duration

	// MemoCapacity bounds the key generator's memoization map. Once full,
	// new keys bypass the memo; nothing is ever evicted.
	// Default: 10000
	MemoCapacity int
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	return Settings{
		Namespace:         "cache",
		Version:           "v1",
		Separator:         ":",
		TrackingPrefix:    "tracking",
		DefaultExpiration: 30 * time.Minute,
		MemoCapacity:      10000,
	}
}

// withDefaults fills in zero fields.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Namespace == "" {
		s.Namespace = d.Namespace
	}
	if s.Version == "" {
		s.Version = d.Version
	}
	if s.Separator == "" {
		s.Separator = d.Separator
	}
	if s.TrackingPrefix == "" {
		s.TrackingPrefix = d.TrackingPrefix
	}
	if s.DefaultExpiration <= 0 {
		s.DefaultExpiration = d.DefaultExpiration
	}
	if s.MemoCapacity <= 0 {
		s.MemoCapacity = d.MemoCapacity
	}
	return s
}
