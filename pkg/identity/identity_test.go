package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name     string
		guid     string
		title    string
		link     string
		expected string
	}{
		{
			name:     "link wins over guid and title",
			guid:     "g1",
			title:    "Some Title",
			link:     "https://x.example/a?x=1#frag",
			expected: "https://x.example/a",
		},
		{
			name:     "link case preserved",
			guid:     "",
			title:    "",
			link:     "https://X.example/Path/A",
			expected: "https://X.example/Path/A",
		},
		{
			name:     "guid when no link",
			guid:     "g1",
			title:    "Some Title",
			expected: "g1",
		},
		{
			name:     "guid when link is relative",
			guid:     "g1",
			link:     "/a/b",
			expected: "g1",
		},
		{
			name:     "title when no guid and no link",
			title:    "Some Title",
			expected: "Some Title",
		},
		{
			name:     "sentinel when nothing usable",
			expected: Sentinel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanonicalID(tt.guid, tt.title, tt.link))
		})
	}
}

func TestCanonicalID_Deterministic(t *testing.T) {
	// same input must always produce the same output
	for i := 0; i < 10; i++ {
		assert.Equal(t, "https://x.example/a", CanonicalID("g", "t", "https://x.example/a?x=1"))
		assert.Equal(t, Sentinel, CanonicalID("", "", ""))
	}
}

func TestNormalizeLink(t *testing.T) {
	tests := []struct {
		name     string
		link     string
		expected string
	}{
		{"strips query", "https://x.example/a?x=1", "https://x.example/a"},
		{"strips fragment", "https://x.example/a#sec", "https://x.example/a"},
		{"lower-cases", "HTTPS://X.Example/Path", "https://x.example/path"},
		{"empty", "", ""},
		{"relative", "/a/b", ""},
		{"no scheme", "x.example/a", ""},
		{"trims spaces", "  https://x.example/a  ", "https://x.example/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeLink(tt.link))
		})
	}
}

func TestNormalizeLink_EquivalentForms(t *testing.T) {
	// the end-to-end dedup property depends on these collapsing together
	a := NormalizeLink("https://x.example/a?x=1")
	b := NormalizeLink("https://x.example/a?x=2")
	assert.Equal(t, a, b)
	assert.Equal(t, "https://x.example/a", a)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "breaking story", NormalizeTitle("  Breaking Story  "))
	assert.Equal(t, "", NormalizeTitle("   "))
	assert.Equal(t, "ужасные новости", NormalizeTitle("Ужасные Новости"))
}

func TestTitleMatchable(t *testing.T) {
	assert.False(t, TitleMatchable(""))
	assert.False(t, TitleMatchable("short"))
	assert.False(t, TitleMatchable("exactly10!")) // 10 runes, excluded
	assert.True(t, TitleMatchable("eleven chars"))
	assert.False(t, TitleMatchable("десять бук")) // runes counted, not bytes
	assert.True(t, TitleMatchable("одиннадцать"))
}
