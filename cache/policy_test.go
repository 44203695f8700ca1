package cache

import (
	"testing"
	"time"
)

func TestPolicy_ShouldCache(t *testing.T) {
	if !DefaultPolicy().ShouldCache() {
		t.Error("DefaultPolicy().ShouldCache() = false, want true")
	}
	if NoCachePolicy().ShouldCache() {
		t.Error("NoCachePolicy().ShouldCache() = true, want false")
	}
}

func TestPolicy_EffectiveTTL(t *testing.T) {
	p := Policy{DefaultTTL: 30 * time.Minute, MaxTTL: time.Hour}

	tests := []struct {
		name     string
		override time.Duration
		want     time.Duration
	}{
		{"no override uses default", 0, 30 * time.Minute},
		{"negative override uses default", -time.Minute, 30 * time.Minute},
		{"override within max", 45 * time.Minute, 45 * time.Minute},
		{"override clamped to max", 2 * time.Hour, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.EffectiveTTL(tt.override); got != tt.want {
				t.Errorf("EffectiveTTL(%v) = %v, want %v", tt.override, got, tt.want)
			}
		})
	}

	t.Run("no max no clamp", func(t *testing.T) {
		unbounded := Policy{DefaultTTL: time.Minute}
		if got := unbounded.EffectiveTTL(100 * time.Hour); got != 100*time.Hour {
			t.Errorf("EffectiveTTL() = %v, want %v", got, 100*time.Hour)
		}
	})
}

func TestDefaultSkipRule(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want bool
	}{
		{"no tags", nil, false},
		{"safe tags", []string{"read", "list"}, false},
		{"write tag", []string{"write"}, true},
		{"mixed tags", []string{"read", "mutation"}, true},
		{"case insensitive", []string{"DELETE"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultSkipRule("op", tt.tags); got != tt.want {
				t.Errorf("DefaultSkipRule(tags=%v) = %v, want %v", tt.tags, got, tt.want)
			}
		})
	}
}
