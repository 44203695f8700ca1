package adaptive

import "errors"

// EvictionPolicy selects which tracked keys to surrender under pressure.
type EvictionPolicy int

const (
	// PolicyLRU evicts the least recently accessed keys.
	PolicyLRU EvictionPolicy = iota
	// PolicyLFU evicts the least frequently accessed keys.
	PolicyLFU
	// PolicyTTL evicts keys idle past the configured base TTL.
	PolicyTTL
	// PolicyRandom evicts a uniform sample.
	PolicyRandom
	// PolicyFIFO evicts the keys first seen longest ago.
	PolicyFIFO
)

// String returns the string representation of the policy.
func (p EvictionPolicy) String() string {
	switch p {
	case PolicyLRU:
		return "lru"
	case PolicyLFU:
		return "lfu"
	case PolicyTTL:
		return "ttl"
	case PolicyRandom:
		return "random"
	case PolicyFIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

// ErrUnknownPolicy is returned for an unrecognized eviction policy.
var ErrUnknownPolicy = errors.New("adaptive: unknown eviction policy")
