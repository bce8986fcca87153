package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/mmcdole/gofeed"

	"github.com/umputun/newsflow/pkg/config"
	"github.com/umputun/newsflow/pkg/domain"
)

// RSS fetches and parses RSS/Atom feed documents
type RSS struct {
	client    *http.Client
	userAgent string
}

// NewRSS creates an RSS adapter
func NewRSS(timeout time.Duration, userAgent string) *RSS {
	return &RSS{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: userAgent,
	}
}

// Fetch retrieves up to limit items from the feed, most recent first.
// Fail-open: any failure logs a warning and returns nothing.
func (r *RSS) Fetch(ctx context.Context, feed config.Feed, limit int) []domain.RawItem {
	body, err := r.fetch(ctx, feed.URL)
	if err != nil {
		lgr.Printf("[WARN] fetch feed %s (%s) failed: %v", feed.Name, feed.URL, err)
		return nil
	}
	defer body.Close()

	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		lgr.Printf("[WARN] parse feed %s (%s) failed: %v", feed.Name, feed.URL, err)
		return nil
	}

	items := make([]domain.RawItem, 0, limit)
	for _, entry := range parsed.Items {
		if len(items) >= limit {
			break
		}

		item := domain.RawItem{
			GUID:    entry.GUID,
			Title:   entry.Title,
			Link:    entry.Link,
			Summary: cleanSummary(entry.Description),
		}
		if entry.PublishedParsed != nil {
			item.Published = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			item.Published = *entry.UpdatedParsed
		}

		items = append(items, item)
	}
	return items
}

// fetch retrieves content from a URL
func (r *RSS) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", r.userAgent)
	addBrowserHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch URL: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp.Body, nil
}
