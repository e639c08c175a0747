package dnc

import (
	"context"
	"time"
)

// CacheStore persists CacheEntry rows keyed by canonical phone.
//
// Writes are per-phone upserts with last-writer-wins semantics. The blacklist
// and national upserts touch disjoint columns, so they may run concurrently
// for the same phone without coordination.
type CacheStore interface {
	// Get returns the entry for phone, or (nil, nil) on a cache miss.
	Get(ctx context.Context, phone string) (*CacheEntry, error)

	// UpsertBlacklist records a live blacklist result and stamps
	// blacklist_checked_at. National fields are left untouched.
	UpsertBlacklist(ctx context.Context, phone string, isOnList bool) error

	// UpsertNational records a live national registry result and stamps
	// national_checked_at. Blacklist fields are left untouched.
	UpsertNational(ctx context.Context, phone string, isOnList bool, reason *string, expiry *time.Time) error

	// DeleteStale removes rows whose both lists are older than retention
	// and returns the number of rows deleted.
	DeleteStale(ctx context.Context, retention time.Duration) (int64, error)
}
