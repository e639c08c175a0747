package dnc

import "time"

// DefaultTTL is used for either list when no TTL is configured.
const DefaultTTL = 12 * time.Hour

// DefaultRetention is the age after which a row whose both lists are stale
// is removed by the retention sweep.
const DefaultRetention = 30 * 24 * time.Hour

// IsFresh reports whether a verdict last checked at checkedAt may still be
// served at now. A list that was never checked is always stale.
func IsFresh(checkedAt *time.Time, ttl time.Duration, now time.Time) bool {
	if checkedAt == nil {
		return false
	}
	return now.Sub(*checkedAt) < ttl
}
