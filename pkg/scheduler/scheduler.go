// Package scheduler orchestrates sweeps: it runs adapters over configured
// feeds, resolves item identity through the store, and fans new items out to
// subscribers. The periodic sweep and on-demand checks share the same
// per-item logic and may interleave freely; the store's atomic claim is the
// only synchronization between them.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/newsflow/pkg/config"
	"github.com/umputun/newsflow/pkg/domain"
	"github.com/umputun/newsflow/pkg/identity"
	"github.com/umputun/newsflow/pkg/notify"
)

// ItemStore is the dedup ledger seam used by the scheduler
type ItemStore interface {
	InsertOrGet(ctx context.Context, guid, title, link, feed string) (*domain.NewsItem, error)
	ClaimForSending(ctx context.Context, itemID int64) (bool, error)
}

// Registry resolves and maintains subscriber sets
type Registry interface {
	Subscribers(ctx context.Context, feed string) ([]int64, error)
	IsGlobal(ctx context.Context, chatID int64) (bool, error)
	Follows(ctx context.Context, chatID int64) ([]string, error)
	Evict(ctx context.Context, chatID int64) error
}

// Fetcher retrieves recent items for a feed, fail-open
type Fetcher interface {
	Fetch(ctx context.Context, feed config.Feed, limit int) []domain.RawItem
}

// Notifier is the external send primitive
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Params holds scheduler dependencies and settings
type Params struct {
	Store    ItemStore
	Registry Registry
	Notifier Notifier
	Fetchers map[config.FeedKind]Fetcher
	Feeds    []config.Feed

	UpdateInterval time.Duration
	FeedLimit      int // per-feed cap for the periodic sweep
	CheckLimit     int // per-feed cap for on-demand checks
	SendDelay      time.Duration
	MaxWorkers     int
}

// Scheduler runs the periodic sweep and serves on-demand checks
type Scheduler struct {
	store    ItemStore
	registry Registry
	notifier Notifier
	fetchers map[config.FeedKind]Fetcher
	feeds    []config.Feed

	updateInterval time.Duration
	feedLimit      int
	checkLimit     int
	sendDelay      time.Duration
	maxWorkers     int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler instance
func NewScheduler(params Params) *Scheduler {
	if params.UpdateInterval == 0 {
		params.UpdateInterval = 5 * time.Minute
	}
	if params.FeedLimit == 0 {
		params.FeedLimit = 10
	}
	if params.CheckLimit == 0 {
		params.CheckLimit = 3
	}
	if params.MaxWorkers == 0 {
		params.MaxWorkers = 4
	}

	return &Scheduler{
		store:          params.Store,
		registry:       params.Registry,
		notifier:       params.Notifier,
		fetchers:       params.Fetchers,
		feeds:          params.Feeds,
		updateInterval: params.UpdateInterval,
		feedLimit:      params.FeedLimit,
		checkLimit:     params.CheckLimit,
		sendDelay:      params.SendDelay,
		maxWorkers:     params.MaxWorkers,
	}
}

// Start begins the periodic sweep loop
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.sweepLoop(ctx)

	lgr.Printf("[INFO] scheduler started, %d feeds, interval %v", len(s.feeds), s.updateInterval)
}

// Stop gracefully stops the scheduler. A started sweep runs to completion.
func (s *Scheduler) Stop() {
	lgr.Printf("[INFO] stopping scheduler...")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

// sweepLoop runs the periodic sweep on a fixed interval
func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.updateInterval)
	defer ticker.Stop()

	// run immediately on start
	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all configured feeds. Different feeds run
// concurrently, bounded by maxWorkers; items within one feed are processed
// sequentially.
func (s *Scheduler) Sweep(ctx context.Context) {
	lgr.Printf("[DEBUG] sweep started, %d feeds", len(s.feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)

	for _, feed := range s.feeds {
		g.Go(func() error {
			s.processFeed(gctx, feed, s.feedLimit)
			return nil // fail-open, one broken feed never aborts the sweep
		})
	}
	_ = g.Wait()

	lgr.Printf("[DEBUG] sweep completed")
}

// CheckNow runs an on-demand sweep over the feeds the chat effectively
// receives, with the smaller fetch cap, and reports how many messages were
// delivered to that chat.
func (s *Scheduler) CheckNow(ctx context.Context, chatID int64) (int, error) {
	feeds, err := s.feedsForChat(ctx, chatID)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, feed := range feeds {
		for _, chat := range s.processFeed(ctx, feed, s.checkLimit) {
			if chat == chatID {
				delivered++
			}
		}
	}
	return delivered, nil
}

// feedsForChat resolves the feeds a chat receives: all of them for a global
// subscriber, otherwise its individual follows
func (s *Scheduler) feedsForChat(ctx context.Context, chatID int64) ([]config.Feed, error) {
	global, err := s.registry.IsGlobal(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("resolve subscription for %d: %w", chatID, err)
	}
	if global {
		return s.feeds, nil
	}

	follows, err := s.registry.Follows(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("resolve follows for %d: %w", chatID, err)
	}

	followed := make(map[string]bool, len(follows))
	for _, name := range follows {
		followed[name] = true
	}

	var feeds []config.Feed
	for _, feed := range s.feeds {
		if followed[feed.Name] {
			feeds = append(feeds, feed)
		}
	}
	return feeds, nil
}

// processFeed fetches one feed and runs the shared per-item logic, returning
// the chats that got a message during this call
func (s *Scheduler) processFeed(ctx context.Context, feed config.Feed, limit int) []int64 {
	f, ok := s.fetchers[feed.Kind]
	if !ok {
		lgr.Printf("[ERROR] no fetcher for feed %s kind %s", feed.Name, feed.Kind)
		return nil
	}

	var delivered []int64
	for _, item := range f.Fetch(ctx, feed, limit) {
		delivered = append(delivered, s.processItem(ctx, feed, item)...)
	}
	return delivered
}

// processItem applies the shared per-item logic: resolve identity, dedup
// through the store, claim, fan out. Returns the chats delivered to.
func (s *Scheduler) processItem(ctx context.Context, feed config.Feed, item domain.RawItem) []int64 {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		lgr.Printf("[DEBUG] feed %s: item without title skipped (guid %q)", feed.Name, item.GUID)
		return nil
	}

	guid := identity.CanonicalID(item.GUID, title, item.Link)
	rec, err := s.store.InsertOrGet(ctx, guid, title, item.Link, feed.Name)
	if err != nil {
		lgr.Printf("[ERROR] feed %s: store item %q failed: %v", feed.Name, guid, err)
		return nil
	}
	if rec.Sent {
		return nil
	}

	subscribers, err := s.registry.Subscribers(ctx, feed.Name)
	if err != nil {
		lgr.Printf("[ERROR] feed %s: resolve subscribers failed: %v", feed.Name, err)
		return nil
	}
	if len(subscribers) == 0 {
		// leave the item unsent for a later sweep to pick up
		return nil
	}

	claimed, err := s.store.ClaimForSending(ctx, rec.ID)
	if err != nil {
		lgr.Printf("[ERROR] feed %s: claim item %d failed: %v", feed.Name, rec.ID, err)
		return nil
	}
	if !claimed {
		// the other sweep path won the race, nothing to do
		return nil
	}

	return s.fanOut(ctx, feed, rec, item, subscribers)
}

// fanOut delivers one claimed item to every resolved subscriber. Dead
// recipients are evicted, other failures logged; the item stays sent no
// matter how many deliveries succeed.
func (s *Scheduler) fanOut(ctx context.Context, feed config.Feed, rec *domain.NewsItem, item domain.RawItem, subscribers []int64) []int64 {
	text := formatMessage(feed.Name, rec, item.Summary)

	var delivered []int64
	for i, chatID := range subscribers {
		if i > 0 && s.sendDelay > 0 {
			// pace outbound sends to respect the channel's throughput limits
			select {
			case <-time.After(s.sendDelay):
			case <-ctx.Done():
				lgr.Printf("[WARN] fan-out for item %d interrupted: %v", rec.ID, ctx.Err())
				return delivered
			}
		}

		err := s.notifier.Send(ctx, chatID, text)
		if err == nil {
			delivered = append(delivered, chatID)
			continue
		}

		if se, ok := notify.AsSendError(err); ok && se.ShouldEvict() {
			lgr.Printf("[INFO] evicting chat %d after delivery failure: %v", chatID, err)
			if evErr := s.registry.Evict(ctx, chatID); evErr != nil {
				lgr.Printf("[ERROR] evict chat %d failed: %v", chatID, evErr)
			}
			continue
		}
		lgr.Printf("[WARN] send item %d to chat %d failed: %v", rec.ID, chatID, err)
	}

	lgr.Printf("[INFO] feed %s: delivered %q to %d/%d subscribers", feed.Name, rec.Title, len(delivered), len(subscribers))
	return delivered
}

// formatMessage renders the outbound text for an item
func formatMessage(feedName string, rec *domain.NewsItem, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", feedName, rec.Title)
	if rec.Link != "" {
		b.WriteString("\n")
		b.WriteString(rec.Link)
	}
	if summary != "" {
		b.WriteString("\n\n")
		b.WriteString(summary)
	}
	return b.String()
}
