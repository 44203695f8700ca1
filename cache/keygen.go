package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// KeyGenerator derives deterministic cache keys from an operation's identity
// and its parameters.
//
// Contract:
//   - Determinism: the same (operationID, action, parameters) always produce
//     the same key, regardless of map insertion order or process restarts.
//   - Concurrency: safe for concurrent use.
//   - Errors: never errors; nil or empty parameters simply omit the hash
//     segment from the generated key.
type KeyGenerator struct {
	settings Settings

	memo     sync.Map // memo key -> generated key
	memoSize atomic.Int64
}

// NewKeyGenerator creates a key generator with the given settings.
// Zero-valued settings fields receive defaults.
func NewKeyGenerator(settings Settings) *KeyGenerator {
	return &KeyGenerator{settings: settings.withDefaults()}
}

// Settings returns the effective settings after defaults were applied.
func (g *KeyGenerator) Settings() Settings {
	return g.settings
}

// GenerateKey builds the cache key for an operation invocation.
// Format: namespace<sep>version<sep>operationID<sep>action<sep>parameterHash,
// with the hash segment omitted when the parameters filter down to nothing.
func (g *KeyGenerator) GenerateKey(operationID, action string, parameters map[string]any) string {
	hash := g.GenerateParameterHash(parameters)

	memoKey := operationID + "\x00" + action + "\x00" + hash
	if cached, ok := g.memo.Load(memoKey); ok {
		return cached.(string)
	}

	segments := []string{g.settings.Namespace, g.settings.Version, operationID, action}
	if hash != "" {
		segments = append(segments, hash)
	}
	key := strings.Join(segments, g.settings.Separator)

	// Hard cap on the memo: once full, new keys bypass memoization rather
	// than evicting, so memory stays predictable under key churn.
	if g.memoSize.Load() < int64(g.settings.MemoCapacity) {
		if _, loaded := g.memo.LoadOrStore(memoKey, key); !loaded {
			g.memoSize.Add(1)
		}
	}

	return key
}

// GenerateTrackingKey builds the key under which the tracking set for a
// table is stored. Format: namespace<sep>version<sep>trackingPrefix<sep>table.
func (g *KeyGenerator) GenerateTrackingKey(tableName string) string {
	segments := []string{g.settings.Namespace, g.settings.Version, g.settings.TrackingPrefix, tableName}
	return strings.Join(segments, g.settings.Separator)
}

// GenerateParameterHash hashes a parameter map into a short base-36 string.
// Nil and empty values are filtered out, remaining keys are sorted, and
// values are normalized before hashing, so the hash is a pure function of
// the parameters' meaning rather than their in-memory layout.
// Returns "" when nothing survives filtering.
func (g *KeyGenerator) GenerateParameterHash(parameters map[string]any) string {
	if len(parameters) == 0 {
		return ""
	}

	type pair struct {
		key   string
		value string
	}
	pairs := make([]pair, 0, len(parameters))
	for k, v := range parameters {
		normalized, ok := normalizeValue(v)
		if !ok {
			continue
		}
		pairs = append(pairs, pair{key: k, value: normalized})
	}
	if len(pairs) == 0 {
		return ""
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	digest := xxhash.New()
	for _, p := range pairs {
		_, _ = digest.WriteString(p.key)
		_, _ = digest.WriteString("=")
		_, _ = digest.WriteString(p.value)
		_, _ = digest.WriteString(";")
	}

	return strconv.FormatUint(digest.Sum64(), 36)
}

// normalizeValue converts a parameter value to its canonical string form.
// Returns ok=false when the value should be filtered out (nil, or empty
// after normalization).
func normalizeValue(v any) (string, bool) {
	if v == nil {
		return "", false
	}

	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return "", false
		}
		return trimmed, true
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), true
	case *time.Time:
		if val == nil {
			return "", false
		}
		return val.UTC().Format(time.RFC3339Nano), true
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), true
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%v", val), true
	case map[string]any:
		if len(val) == 0 {
			return "", false
		}
		return canonicalizeMap(val), true
	case []any:
		if len(val) == 0 {
			return "", false
		}
		return canonicalizeSlice(val), true
	default:
		// Any other type goes through JSON; key order inside nested maps
		// is handled by the canonical paths above, and json.Marshal sorts
		// map keys for the remaining map types.
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val), true
		}
		if string(data) == `""` || string(data) == "null" {
			return "", false
		}
		return string(data), true
	}
}

// canonicalizeMap serializes a map with keys in sorted order.
func canonicalizeMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString(":")
		if v, ok := normalizeValue(m[k]); ok {
			b.WriteString(v)
		}
	}
	b.WriteString("}")
	return b.String()
}

// canonicalizeSlice serializes a slice preserving element order.
func canonicalizeSlice(s []any) string {
	var b strings.Builder
	b.WriteString("[")
	for i, v := range s {
		if i > 0 {
			b.WriteString(",")
		}
		if normalized, ok := normalizeValue(v); ok {
			b.WriteString(normalized)
		}
	}
	b.WriteString("]")
	return b.String()
}
