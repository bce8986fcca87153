package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
)

// subscription registry, persisted in the same database. A row with feed=''
// is a global subscription: the chat receives every configured feed.

const globalFeed = ""

// AddGlobal subscribes a chat to all feeds
func (s *Store) AddGlobal(ctx context.Context, chatID int64) error {
	return s.addSubscription(ctx, chatID, globalFeed)
}

// RemoveGlobal removes the chat's global subscription, keeping its follows
func (s *Store) RemoveGlobal(ctx context.Context, chatID int64) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM subscriptions WHERE chat_id = ? AND feed = ''", chatID); err != nil {
		return fmt.Errorf("remove global subscription for %d: %w", chatID, err)
	}
	return nil
}

// Follow subscribes a chat to a single feed by normalized name
func (s *Store) Follow(ctx context.Context, feed string, chatID int64) error {
	if feed == globalFeed {
		return fmt.Errorf("empty feed name")
	}
	return s.addSubscription(ctx, chatID, feed)
}

// Subscribers resolves the delivery set for a feed: global union feed-specific
func (s *Store) Subscribers(ctx context.Context, feed string) ([]int64, error) {
	var chats []int64
	query := "SELECT DISTINCT chat_id FROM subscriptions WHERE feed = '' OR feed = ? ORDER BY chat_id"
	if err := s.conn.SelectContext(ctx, &chats, query, feed); err != nil {
		return nil, fmt.Errorf("resolve subscribers for %q: %w", feed, err)
	}
	return chats, nil
}

// IsGlobal reports whether the chat holds a global subscription
func (s *Store) IsGlobal(ctx context.Context, chatID int64) (bool, error) {
	var exists bool
	err := s.conn.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM subscriptions WHERE chat_id = ? AND feed = '')", chatID)
	if err != nil {
		return false, fmt.Errorf("check global subscription for %d: %w", chatID, err)
	}
	return exists, nil
}

// Follows returns the feed names the chat follows individually
func (s *Store) Follows(ctx context.Context, chatID int64) ([]string, error) {
	var feeds []string
	query := "SELECT feed FROM subscriptions WHERE chat_id = ? AND feed != '' ORDER BY feed"
	if err := s.conn.SelectContext(ctx, &feeds, query, chatID); err != nil {
		return nil, fmt.Errorf("get follows for %d: %w", chatID, err)
	}
	return feeds, nil
}

// Evict removes the chat from the global set and every per-feed set,
// triggered by a forbidden/bad-request delivery failure
func (s *Store) Evict(ctx context.Context, chatID int64) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		if _, err := s.conn.ExecContext(ctx, "DELETE FROM subscriptions WHERE chat_id = ?", chatID); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("evict %d: %w", chatID, err)}
		}
		return nil
	})
}

func (s *Store) addSubscription(ctx context.Context, chatID int64, feed string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := "INSERT OR IGNORE INTO subscriptions (chat_id, feed) VALUES (?, ?)"
		if _, err := s.conn.ExecContext(ctx, query, chatID, feed); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("add subscription %d/%q: %w", chatID, feed, err)}
		}
		return nil
	})
}
