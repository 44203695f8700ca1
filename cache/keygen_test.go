package cache

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// TestGenerateKey_Format tests the key segment layout.
func TestGenerateKey_Format(t *testing.T) {
	g := NewKeyGenerator(Settings{})

	key := g.GenerateKey("users", "find", nil)
	if key != "cache:v1:users:find" {
		t.Errorf("GenerateKey() = %q, want %q", key, "cache:v1:users:find")
	}

	key = g.GenerateKey("users", "find", map[string]any{"id": 42})
	if !strings.HasPrefix(key, "cache:v1:users:find:") {
		t.Errorf("GenerateKey() = %q, want prefix %q", key, "cache:v1:users:find:")
	}
	if strings.HasSuffix(key, ":") {
		t.Errorf("GenerateKey() = %q, trailing separator", key)
	}
}

// TestGenerateKey_CustomSettings tests namespace, version and separator overrides.
func TestGenerateKey_CustomSettings(t *testing.T) {
	g := NewKeyGenerator(Settings{Namespace: "app", Version: "v2", Separator: "/"})

	key := g.GenerateKey("orders", "list", nil)
	if key != "app/v2/orders/list" {
		t.Errorf("GenerateKey() = %q, want %q", key, "app/v2/orders/list")
	}
}

// TestGenerateKey_Deterministic verifies the same inputs always yield the same key.
func TestGenerateKey_Deterministic(t *testing.T) {
	g := NewKeyGenerator(Settings{})
	params := map[string]any{"id": 42, "name": "alice", "active": true}

	first := g.GenerateKey("users", "find", params)
	for i := 0; i < 100; i++ {
		if got := g.GenerateKey("users", "find", params); got != first {
			t.Fatalf("GenerateKey() = %q on iteration %d, want %q", got, i, first)
		}
	}

	// A fresh generator (empty memo) must agree.
	g2 := NewKeyGenerator(Settings{})
	if got := g2.GenerateKey("users", "find", params); got != first {
		t.Errorf("fresh generator: GenerateKey() = %q, want %q", got, first)
	}
}

// TestGenerateParameterHash tests normalization and filtering.
func TestGenerateParameterHash(t *testing.T) {
	g := NewKeyGenerator(Settings{})

	t.Run("nil and empty filtered", func(t *testing.T) {
		tests := []map[string]any{
			nil,
			{},
			{"a": nil},
			{"a": ""},
			{"a": "   "},
			{"a": nil, "b": "", "c": map[string]any{}},
			{"a": []any{}},
		}
		for i, params := range tests {
			if got := g.GenerateParameterHash(params); got != "" {
				t.Errorf("case %d: GenerateParameterHash() = %q, want empty", i, got)
			}
		}
	})

	t.Run("strings trimmed", func(t *testing.T) {
		a := g.GenerateParameterHash(map[string]any{"name": "alice"})
		b := g.GenerateParameterHash(map[string]any{"name": "  alice  "})
		if a != b {
			t.Errorf("trimmed and untrimmed strings hash differently: %q vs %q", a, b)
		}
	})

	t.Run("filtered values do not disturb hash", func(t *testing.T) {
		a := g.GenerateParameterHash(map[string]any{"id": 1})
		b := g.GenerateParameterHash(map[string]any{"id": 1, "junk": nil, "blank": ""})
		if a != b {
			t.Errorf("filtered values changed the hash: %q vs %q", a, b)
		}
	})

	t.Run("distinct params distinct hashes", func(t *testing.T) {
		a := g.GenerateParameterHash(map[string]any{"id": 1})
		b := g.GenerateParameterHash(map[string]any{"id": 2})
		if a == b {
			t.Errorf("distinct params produced the same hash %q", a)
		}
	})

	t.Run("time normalized to UTC", func(t *testing.T) {
		loc := time.FixedZone("UTC+5", 5*3600)
		instant := time.Date(2025, 6, 1, 17, 0, 0, 0, loc)
		a := g.GenerateParameterHash(map[string]any{"at": instant})
		b := g.GenerateParameterHash(map[string]any{"at": instant.UTC()})
		if a != b {
			t.Errorf("equal instants in different zones hash differently: %q vs %q", a, b)
		}
	})

	t.Run("nested map key order irrelevant", func(t *testing.T) {
		a := g.GenerateParameterHash(map[string]any{
			"filter": map[string]any{"x": 1, "y": 2, "z": 3},
		})
		b := g.GenerateParameterHash(map[string]any{
			"filter": map[string]any{"z": 3, "y": 2, "x": 1},
		})
		if a != b {
			t.Errorf("nested map order changed the hash: %q vs %q", a, b)
		}
	})

	t.Run("slice order preserved", func(t *testing.T) {
		a := g.GenerateParameterHash(map[string]any{"ids": []any{1, 2, 3}})
		b := g.GenerateParameterHash(map[string]any{"ids": []any{3, 2, 1}})
		if a == b {
			t.Errorf("reordered slice produced the same hash %q", a)
		}
	})

	t.Run("base36 shape", func(t *testing.T) {
		hash := g.GenerateParameterHash(map[string]any{"id": 42})
		for _, r := range hash {
			if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", r) {
				t.Fatalf("hash %q contains non-base36 rune %q", hash, r)
			}
		}
	})
}

// TestGenerateTrackingKey tests the tracking key layout.
func TestGenerateTrackingKey(t *testing.T) {
	g := NewKeyGenerator(Settings{})

	key := g.GenerateTrackingKey("users")
	if key != "cache:v1:tracking:users" {
		t.Errorf("GenerateTrackingKey() = %q, want %q", key, "cache:v1:tracking:users")
	}
}

// TestKeyGenerator_MemoBound verifies the memo stops growing at capacity but
// keys remain correct past it.
func TestKeyGenerator_MemoBound(t *testing.T) {
	g := NewKeyGenerator(Settings{MemoCapacity: 8})

	var keys []string
	for i := 0; i < 20; i++ {
		keys = append(keys, g.GenerateKey("users", "find", map[string]any{"id": i}))
	}
	if g.memoSize.Load() > 8 {
		t.Errorf("memo size = %d, want <= 8", g.memoSize.Load())
	}
	// Keys generated past capacity still deterministic.
	for i := 0; i < 20; i++ {
		if got := g.GenerateKey("users", "find", map[string]any{"id": i}); got != keys[i] {
			t.Errorf("key %d = %q, want %q", i, got, keys[i])
		}
	}
}

// TestKeyGenerator_Concurrent hammers the generator from many goroutines.
func TestKeyGenerator_Concurrent(t *testing.T) {
	g := NewKeyGenerator(Settings{MemoCapacity: 50})
	want := g.GenerateKey("users", "find", map[string]any{"id": 7})

	done := make(chan string, 64)
	for i := 0; i < 64; i++ {
		go func(n int) {
			g.GenerateKey("users", "find", map[string]any{"id": n % 100})
			done <- g.GenerateKey("users", "find", map[string]any{"id": 7})
		}(i)
	}
	for i := 0; i < 64; i++ {
		if got := <-done; got != want {
			t.Fatalf("concurrent GenerateKey() = %q, want %q", got, want)
		}
	}
}

func BenchmarkGenerateKey(b *testing.B) {
	g := NewKeyGenerator(Settings{})
	params := map[string]any{"id": 42, "name": "alice", "limit": 50}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.GenerateKey("users", "find", params)
	}
}

func BenchmarkGenerateParameterHash(b *testing.B) {
	g := NewKeyGenerator(Settings{})
	params := map[string]any{
		"id":     42,
		"name":   "alice",
		"filter": map[string]any{"status": "active", "region": "eu"},
		"ids":    []any{1, 2, 3, 4, 5},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.GenerateParameterHash(params)
	}
}

func BenchmarkGenerateKey_MemoBypass(b *testing.B) {
	g := NewKeyGenerator(Settings{MemoCapacity: 1})
	g.GenerateKey("warm", "up", map[string]any{"id": 0})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.GenerateKey("users", "find", map[string]any{"id": fmt.Sprint(i)})
	}
}
