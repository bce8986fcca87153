// Package commands implements the user-facing operations behind the control
// API: subscription management, on-demand checks, and the oauth setup flow.
// It validates inputs and translates lower-level failures into typed errors
// the transport layer can map to responses.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-pkgz/lgr"

	"github.com/umputun/newsflow/pkg/auth"
	"github.com/umputun/newsflow/pkg/config"
)

// typed failures for the transport layer to classify
var (
	ErrUnknownFeed   = errors.New("unknown feed")
	ErrBadAuthState  = errors.New("unknown or expired auth state")
	ErrNotConfigured = auth.ErrNotConfigured
)

// Registry maintains subscriber sets
type Registry interface {
	AddGlobal(ctx context.Context, chatID int64) error
	RemoveGlobal(ctx context.Context, chatID int64) error
	Follow(ctx context.Context, feed string, chatID int64) error
	IsGlobal(ctx context.Context, chatID int64) (bool, error)
	Follows(ctx context.Context, chatID int64) ([]string, error)
}

// Checker runs an on-demand sweep for a chat
type Checker interface {
	CheckNow(ctx context.Context, chatID int64) (int, error)
}

// ItemCounter reports ledger counters
type ItemCounter interface {
	CountItems(ctx context.Context) (total, sent int64, err error)
}

// Authenticator drives the oauth setup and credential lifecycle
type Authenticator interface {
	BeginSetup(chatID int64) (string, error)
	ChatForState(state string) (int64, bool)
	CompleteSetup(ctx context.Context, chatID int64, code string) error
	GetStatus(ctx context.Context) (auth.Status, error)
	Logout(ctx context.Context) error
}

// Service wires the command operations together
type Service struct {
	cfg      *config.Config
	registry Registry
	checker  Checker
	auth     Authenticator
	counter  ItemCounter
}

// SubscriptionStatus describes what a chat currently receives
type SubscriptionStatus struct {
	ChatID  int64    `json:"chat_id"`
	Global  bool     `json:"global"`
	Follows []string `json:"follows"`
}

// FeedInfo is the public view of a configured feed
type FeedInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Stats summarizes the ledger for operators
type Stats struct {
	Feeds      int   `json:"feeds"`
	TotalItems int64 `json:"total_items"`
	SentItems  int64 `json:"sent_items"`
}

// NewService creates the command service
func NewService(cfg *config.Config, registry Registry, checker Checker, authenticator Authenticator, counter ItemCounter) *Service {
	return &Service{cfg: cfg, registry: registry, checker: checker, auth: authenticator, counter: counter}
}

// Subscribe adds the chat to the global set. Idempotent.
func (s *Service) Subscribe(ctx context.Context, chatID int64) error {
	if err := s.registry.AddGlobal(ctx, chatID); err != nil {
		return fmt.Errorf("subscribe chat %d: %w", chatID, err)
	}
	lgr.Printf("[INFO] chat %d subscribed to all feeds", chatID)
	return nil
}

// Unsubscribe removes the chat from the global set only, individual follows
// survive. Idempotent.
func (s *Service) Unsubscribe(ctx context.Context, chatID int64) error {
	if err := s.registry.RemoveGlobal(ctx, chatID); err != nil {
		return fmt.Errorf("unsubscribe chat %d: %w", chatID, err)
	}
	lgr.Printf("[INFO] chat %d unsubscribed from all feeds", chatID)
	return nil
}

// Follow subscribes the chat to a single named feed. The name is matched
// case-insensitively against the configured feeds.
func (s *Service) Follow(ctx context.Context, chatID int64, feedName string) error {
	feed, ok := s.cfg.FeedByName(feedName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFeed, feedName)
	}
	if err := s.registry.Follow(ctx, feed.Name, chatID); err != nil {
		return fmt.Errorf("follow %s for chat %d: %w", feed.Name, chatID, err)
	}
	lgr.Printf("[INFO] chat %d follows feed %s", chatID, feed.Name)
	return nil
}

// Status reports the chat's current subscription state
func (s *Service) Status(ctx context.Context, chatID int64) (SubscriptionStatus, error) {
	global, err := s.registry.IsGlobal(ctx, chatID)
	if err != nil {
		return SubscriptionStatus{}, fmt.Errorf("status for chat %d: %w", chatID, err)
	}
	follows, err := s.registry.Follows(ctx, chatID)
	if err != nil {
		return SubscriptionStatus{}, fmt.Errorf("status for chat %d: %w", chatID, err)
	}
	sort.Strings(follows)
	return SubscriptionStatus{ChatID: chatID, Global: global, Follows: follows}, nil
}

// Feeds lists the configured feeds
func (s *Service) Feeds() []FeedInfo {
	infos := make([]FeedInfo, len(s.cfg.Feeds))
	for i, f := range s.cfg.Feeds {
		infos[i] = FeedInfo{Name: f.Name, Kind: string(f.Kind)}
	}
	return infos
}

// Stats reports configured feed count and ledger totals
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	total, sent, err := s.counter.CountItems(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count items: %w", err)
	}
	return Stats{Feeds: len(s.cfg.Feeds), TotalItems: total, SentItems: sent}, nil
}

// Check runs an immediate sweep over the chat's feeds and returns the number
// of messages delivered to the requesting chat
func (s *Service) Check(ctx context.Context, chatID int64) (int, error) {
	count, err := s.checker.CheckNow(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("check for chat %d: %w", chatID, err)
	}
	return count, nil
}

// AuthLogin starts the oauth handshake for the chat and returns the
// authorization URL the user should visit
func (s *Service) AuthLogin(_ context.Context, chatID int64) (string, error) {
	authURL, err := s.auth.BeginSetup(chatID)
	if err != nil {
		return "", fmt.Errorf("begin auth for chat %d: %w", chatID, err)
	}
	return authURL, nil
}

// AuthCallback finishes the oauth handshake for the state's owning chat.
// An unknown or reused state fails with ErrBadAuthState.
func (s *Service) AuthCallback(ctx context.Context, state, code string) (int64, error) {
	chatID, ok := s.auth.ChatForState(state)
	if !ok {
		return 0, ErrBadAuthState
	}
	if err := s.auth.CompleteSetup(ctx, chatID, code); err != nil {
		return chatID, fmt.Errorf("complete auth for chat %d: %w", chatID, err)
	}
	return chatID, nil
}

// AuthStatus reports the oauth credential state
func (s *Service) AuthStatus(ctx context.Context) (auth.Status, error) {
	st, err := s.auth.GetStatus(ctx)
	if err != nil {
		return auth.Status{}, fmt.Errorf("auth status: %w", err)
	}
	return st, nil
}

// AuthLogout drops all persisted oauth credentials
func (s *Service) AuthLogout(ctx context.Context) error {
	if err := s.auth.Logout(ctx); err != nil {
		return fmt.Errorf("auth logout: %w", err)
	}
	return nil
}
