package cache_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

func TestEntry_Freshness(t *testing.T) {
	storedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := cache.Entry{Key: "k", StoredAt: storedAt, TTL: 5 * time.Minute}

	tests := []struct {
		name      string
		age       time.Duration
		staleTime time.Duration
		want      cache.Freshness
	}{
		{name: "just stored", age: 0, staleTime: 30 * time.Second, want: cache.Fresh},
		{name: "inside stale window", age: 20 * time.Second, staleTime: 30 * time.Second, want: cache.Fresh},
		{name: "stale boundary", age: 30 * time.Second, staleTime: 30 * time.Second, want: cache.Stale},
		{name: "stale", age: 40 * time.Second, staleTime: 30 * time.Second, want: cache.Stale},
		{name: "ttl boundary", age: 5 * time.Minute, staleTime: 30 * time.Second, want: cache.Expired},
		{name: "zero stale time never stale", age: 4 * time.Minute, staleTime: 0, want: cache.Fresh},
		{name: "stale time beyond ttl never stale", age: 4 * time.Minute, staleTime: time.Hour, want: cache.Fresh},
		{name: "zero stale time still expires", age: 6 * time.Minute, staleTime: 0, want: cache.Expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Freshness(storedAt.Add(tt.age), tt.staleTime); got != tt.want {
				t.Errorf("Freshness() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_Expiry(t *testing.T) {
	storedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := cache.Entry{StoredAt: storedAt, TTL: 100 * time.Millisecond}

	if e.Expired(storedAt.Add(50 * time.Millisecond)) {
		t.Error("expected entry valid at 50ms")
	}
	if !e.Expired(storedAt.Add(100 * time.Millisecond)) {
		t.Error("expected entry expired at TTL")
	}
	if !e.ExpiresAt().Equal(storedAt.Add(100 * time.Millisecond)) {
		t.Errorf("unexpected ExpiresAt %v", e.ExpiresAt())
	}
	if got := e.Age(storedAt.Add(time.Second)); got != time.Second {
		t.Errorf("expected age 1s, got %v", got)
	}
}

func TestFreshness_String(t *testing.T) {
	for f, want := range map[cache.Freshness]string{
		cache.Fresh:         "fresh",
		cache.Stale:         "stale",
		cache.Expired:       "expired",
		cache.Freshness(42): "unknown",
	} {
		if f.String() != want {
			t.Errorf("expected %q, got %q", want, f.String())
		}
	}
}
