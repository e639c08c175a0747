// Package dnc holds the domain model for do-not-call screening of CRM contacts:
// the per-phone cache entry for the company blacklist and the national
// registry, the verdict an orchestrated check produces, cache freshness and
// the tag contract shared with downstream CRM workflows.
package dnc

// This file serves as the main entry point for the DNC domain.
// All core types are defined in their respective files:
// - cache_entry.go: CacheEntry, one row per canonical phone
// - cache_store.go: CacheStore persistence contract
// - verdict.go: Verdict and the per-check observability record
// - freshness.go: TTL freshness evaluation
// - tags.go: CRM tag contract and additive tag merge
