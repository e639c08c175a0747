package dnc

import "strings"

// Tag values are a contract with downstream CRM workflows. Never change them.
const (
	TagCompanyBlacklist = "dnc-company-blacklist"
	TagNationalRegistry = "dnc-national-registry"
)

// DNDMessage is the reason written alongside the do-not-disturb flag.
const DNDMessage = "Do-not-call list match (automated DNC check)"

// TagsForVerdict returns the tags a verdict requires, in a stable order.
func TagsForVerdict(v *Verdict) []string {
	if v == nil {
		return nil
	}
	var tags []string
	if v.IsBlacklisted {
		tags = append(tags, TagCompanyBlacklist)
	}
	if v.IsNationalDNC {
		tags = append(tags, TagNationalRegistry)
	}
	return tags
}

// HasAllDNCTags reports whether tags already carry both DNC tags.
func HasAllDNCTags(tags []string) bool {
	return containsTag(tags, TagCompanyBlacklist) && containsTag(tags, TagNationalRegistry)
}

// MergeTags returns the union of existing and additions. Existing tags keep
// their order and spelling; additions are appended when not already present.
// Comparison ignores case and surrounding space, matching how the CRM stores
// tags. The result is never shorter than the deduplicated existing set.
func MergeTags(existing, additions []string) []string {
	merged := make([]string, 0, len(existing)+len(additions))
	for _, t := range existing {
		if strings.TrimSpace(t) == "" || containsTag(merged, t) {
			continue
		}
		merged = append(merged, t)
	}
	for _, t := range additions {
		if strings.TrimSpace(t) == "" || containsTag(merged, t) {
			continue
		}
		merged = append(merged, t)
	}
	return merged
}

func containsTag(tags []string, tag string) bool {
	want := strings.TrimSpace(tag)
	for _, t := range tags {
		if strings.EqualFold(strings.TrimSpace(t), want) {
			return true
		}
	}
	return false
}
