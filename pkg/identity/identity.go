// Package identity derives canonical and matching keys for fetched items.
// Feeds supply inconsistent or missing unique ids, so identity is resolved
// from the best available key: link, then source guid, then title.
// All functions are pure.
package identity

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// Sentinel is the canonical id for items with no usable key at all.
const Sentinel = "unidentified"

// MinTitleLen is the minimum title length (in runes, after normalization)
// for title-based matching. Shorter titles are too collision-prone.
const MinTitleLen = 10

// CanonicalID returns the key stored as the item's guid on first sighting.
// Prefers the link reduced to scheme+host+path, then the source guid,
// then the title, then a fixed sentinel.
func CanonicalID(guid, title, link string) string {
	if reduced := reduceLink(link); reduced != "" {
		return reduced
	}
	if guid != "" {
		return guid
	}
	if title != "" {
		return title
	}
	return Sentinel
}

// NormalizeLink reduces a link to lower-cased scheme+host+path,
// dropping query and fragment. Returns "" for unparseable or relative links.
func NormalizeLink(link string) string {
	return strings.ToLower(reduceLink(link))
}

// NormalizeTitle trims and lower-cases a title for matching.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// TitleMatchable reports whether a normalized title is long enough
// to participate in title-based matching.
func TitleMatchable(normTitle string) bool {
	return utf8.RuneCountInString(normTitle) > MinTitleLen
}

// reduceLink strips query and fragment, keeping scheme://host/path as-is
func reduceLink(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + u.Path
}
