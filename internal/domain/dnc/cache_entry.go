package dnc

import (
	"time"
)

// List identifies one of the two remote do-not-call lists.
type List string

const (
	ListCompanyBlacklist List = "company_blacklist"
	ListNationalRegistry List = "national_registry"
)

func (l List) String() string {
	return string(l)
}

// CacheEntry is the last known state of one phone number on both lists.
// The two checked-at timestamps move independently: a row may carry a
// fresh blacklist verdict and a stale or missing national one.
type CacheEntry struct {
	Phone string `json:"phone"`

	IsCompanyBlacklisted bool       `json:"is_company_blacklisted"`
	BlacklistCheckedAt   *time.Time `json:"blacklist_checked_at,omitempty"`

	IsNationalDNC     bool       `json:"is_national_dnc"`
	NationalDNCReason *string    `json:"national_dnc_reason,omitempty"`
	NationalDNCExpiry *time.Time `json:"national_dnc_expiry,omitempty"`
	NationalCheckedAt *time.Time `json:"national_checked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckedAt returns the last live check time of list, nil if never checked.
func (e *CacheEntry) CheckedAt(list List) *time.Time {
	if e == nil {
		return nil
	}
	switch list {
	case ListCompanyBlacklist:
		return e.BlacklistCheckedAt
	case ListNationalRegistry:
		return e.NationalCheckedAt
	default:
		return nil
	}
}

// RetentionExpired reports whether the whole row is older than cutoff on
// both lists. A list that was never checked is judged by the row's age.
func (e *CacheEntry) RetentionExpired(cutoff time.Time) bool {
	stale := func(ts *time.Time) bool {
		if ts == nil {
			return e.CreatedAt.Before(cutoff)
		}
		return ts.Before(cutoff)
	}
	return stale(e.BlacklistCheckedAt) && stale(e.NationalCheckedAt)
}
