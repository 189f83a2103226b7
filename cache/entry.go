package cache

import "time"

// Entry is a cached value plus the moment it was stored and its hard time-to-live.
// An entry with now - StoredAt >= TTL is expired and never returned as valid.
type Entry struct {
	Key      string
	Value    any
	StoredAt time.Time
	TTL      time.Duration
}

// Freshness is the three-way state derived from StoredAt, a stale window and TTL.
type Freshness int

const (
	Fresh Freshness = iota
	Stale
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Age returns how long ago the entry was stored.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// ExpiresAt returns the instant at which the entry stops being valid.
func (e Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return e.Age(now) >= e.TTL
}

// Freshness classifies the entry at now. A staleTime outside (0, TTL] means the entry
// is never considered stale, only fresh or expired.
func (e Entry) Freshness(now time.Time, staleTime time.Duration) Freshness {
	age := e.Age(now)
	if age >= e.TTL {
		return Expired
	}
	if staleTime <= 0 || staleTime > e.TTL {
		return Fresh
	}
	if age >= staleTime {
		return Stale
	}
	return Fresh
}
