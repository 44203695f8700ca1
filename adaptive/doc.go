// Package adaptive derives cache tuning decisions from observed access
// traffic.
//
// A Manager records hits, misses and writes per key, and answers three
// questions from those metrics: which keys are hot (GetHotKeys), how long
// a given key's entries should live (CalculateTTL), and which keys to
// evict under a given policy (EvictByPolicy). Recording never blocks the
// cache path, and the manager never touches the cache itself: eviction
// returns candidate keys and forgets their metrics, leaving the actual
// removal to the caller.
//
// A background sweep (Start/Stop) purges metrics for keys idle past the
// retention window so a long-lived manager's footprint stays bounded by
// the working set.
package adaptive
