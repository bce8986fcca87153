// Package fetcher provides one adapter per feed source kind. Every adapter
// follows the same fail-open contract: any network, auth, or parse failure
// yields an empty result and a logged warning, so one broken feed can never
// block a sweep.
package fetcher

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/umputun/newsflow/pkg/config"
	"github.com/umputun/newsflow/pkg/domain"
)

// Fetcher retrieves the most recent items for a configured feed,
// most-recent-first, best-effort
type Fetcher interface {
	Fetch(ctx context.Context, feed config.Feed, limit int) []domain.RawItem
}

// summaryMaxLen caps item summaries carried into outbound messages
const summaryMaxLen = 400

var stripPolicy = bluemonday.StrictPolicy()

// cleanSummary strips markup from a feed-provided summary and truncates it
func cleanSummary(s string) string {
	s = strings.TrimSpace(stripPolicy.Sanitize(s))
	if utf8.RuneCountInString(s) <= summaryMaxLen {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:summaryMaxLen])) + "…"
}
