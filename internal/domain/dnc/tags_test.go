package dnc

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestTagsForVerdict(t *testing.T) {
	assert.Nil(t, TagsForVerdict(nil))
	assert.Empty(t, TagsForVerdict(&Verdict{}))
	assert.Equal(t, []string{TagCompanyBlacklist}, TagsForVerdict(&Verdict{IsBlacklisted: true}))
	assert.Equal(t, []string{TagNationalRegistry}, TagsForVerdict(&Verdict{IsNationalDNC: true}))
	assert.Equal(t, []string{TagCompanyBlacklist, TagNationalRegistry},
		TagsForVerdict(&Verdict{IsBlacklisted: true, IsNationalDNC: true}))
}

func TestMergeTags(t *testing.T) {
	tests := []struct {
		name      string
		existing  []string
		additions []string
		want      []string
	}{
		{
			name:      "keeps existing tags",
			existing:  []string{"vip", "spanish-speaker"},
			additions: []string{TagCompanyBlacklist},
			want:      []string{"vip", "spanish-speaker", TagCompanyBlacklist},
		},
		{
			name:      "no duplicates when already tagged",
			existing:  []string{"vip", TagCompanyBlacklist},
			additions: []string{TagCompanyBlacklist},
			want:      []string{"vip", TagCompanyBlacklist},
		},
		{
			name:      "case insensitive match keeps existing spelling",
			existing:  []string{"DNC-Company-Blacklist"},
			additions: []string{TagCompanyBlacklist},
			want:      []string{"DNC-Company-Blacklist"},
		},
		{
			name:      "empty existing",
			existing:  nil,
			additions: []string{TagCompanyBlacklist, TagNationalRegistry},
			want:      []string{TagCompanyBlacklist, TagNationalRegistry},
		},
		{
			name:      "drops blanks and existing duplicates",
			existing:  []string{"vip", "", "vip"},
			additions: []string{" "},
			want:      []string{"vip"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeTags(tt.existing, tt.additions))
		})
	}
}

func TestHasAllDNCTags(t *testing.T) {
	assert.False(t, HasAllDNCTags(nil))
	assert.False(t, HasAllDNCTags([]string{TagCompanyBlacklist}))
	assert.False(t, HasAllDNCTags([]string{TagNationalRegistry, "vip"}))
	assert.True(t, HasAllDNCTags([]string{"vip", TagNationalRegistry, TagCompanyBlacklist}))
	assert.True(t, HasAllDNCTags([]string{"DNC-NATIONAL-REGISTRY", "dnc-company-blacklist"}))
}

func TestMergeTags_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	tagGen := gen.SliceOf(gen.OneConstOf("vip", "lead", "Spanish-Speaker", "spanish-speaker", TagCompanyBlacklist, TagNationalRegistry, "", "hot"))
	addGen := gen.SliceOf(gen.OneConstOf(TagCompanyBlacklist, TagNationalRegistry))

	properties.Property("merge never drops an existing tag", prop.ForAll(
		func(existing, additions []string) bool {
			merged := MergeTags(existing, additions)
			for _, t := range existing {
				if strings.TrimSpace(t) != "" && !containsTag(merged, t) {
					return false
				}
			}
			for _, t := range additions {
				if !containsTag(merged, t) {
					return false
				}
			}
			return true
		},
		tagGen, addGen,
	))

	properties.Property("merge is idempotent", prop.ForAll(
		func(existing, additions []string) bool {
			once := MergeTags(existing, additions)
			twice := MergeTags(once, additions)
			if len(once) != len(twice) {
				return false
			}
			for i := range once {
				if once[i] != twice[i] {
					return false
				}
			}
			return true
		},
		tagGen, addGen,
	))

	properties.Property("merge has no case-insensitive duplicates", prop.ForAll(
		func(existing, additions []string) bool {
			seen := map[string]bool{}
			for _, t := range MergeTags(existing, additions) {
				key := strings.ToLower(strings.TrimSpace(t))
				if seen[key] {
					return false
				}
				seen[key] = true
			}
			return true
		},
		tagGen, addGen,
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
