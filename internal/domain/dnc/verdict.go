package dnc

import (
	"context"
	"time"
)

// Verdict is the combined outcome of one orchestrated check.
type Verdict struct {
	IsBlacklisted  bool       `json:"is_blacklisted"`
	IsNationalDNC  bool       `json:"is_national_dnc"`
	NationalReason *string    `json:"national_reason,omitempty"`
	NationalExpiry *time.Time `json:"national_expiry,omitempty"`

	// BlacklistFromCache is true when the blacklist verdict was served from
	// a fresh cache entry, false when this check queried the list live.
	BlacklistFromCache bool `json:"blacklist_from_cache"`
	NationalFromCache  bool `json:"national_from_cache"`
}

// Flagged reports whether either list matched.
func (v *Verdict) Flagged() bool {
	return v != nil && (v.IsBlacklisted || v.IsNationalDNC)
}

// CacheStatus is the coarse cache classification of one check.
type CacheStatus string

const (
	CacheHit     CacheStatus = "hit"
	CachePartial CacheStatus = "partial"
	CacheMiss    CacheStatus = "miss"
)

// ClassifyCacheStatus derives the cache status from the two freshness
// decisions alone; it says nothing about whether live checks changed the
// verdict.
func ClassifyCacheStatus(blacklistFresh, nationalFresh bool) CacheStatus {
	switch {
	case blacklistFresh && nationalFresh:
		return CacheHit
	case blacklistFresh || nationalFresh:
		return CachePartial
	default:
		return CacheMiss
	}
}

// CheckEvent is the structured observability record emitted once per check.
// Phone is always redacted to its trailing four digits.
type CheckEvent struct {
	Phone              string        `json:"phone"`
	CacheStatus        CacheStatus   `json:"cache_status"`
	BlacklistFromCache bool          `json:"blacklist_from_cache"`
	NationalFromCache  bool          `json:"national_from_cache"`
	IsBlacklisted      bool          `json:"is_blacklisted"`
	IsNationalDNC      bool          `json:"is_national_dnc"`
	BlacklistError     string        `json:"blacklist_error,omitempty"`
	NationalError      string        `json:"national_error,omitempty"`
	Duration           time.Duration `json:"-"`
	DurationMs         int64         `json:"duration_ms"`
	OccurredAt         time.Time     `json:"occurred_at"`
}

// EventSink receives check events. Implementations must not block the
// caller for long and must never fail the check.
type EventSink interface {
	Record(ctx context.Context, event CheckEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event CheckEvent)

func (f EventSinkFunc) Record(ctx context.Context, event CheckEvent) {
	f(ctx, event)
}
