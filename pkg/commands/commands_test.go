package commands

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/newsflow/pkg/auth"
	"github.com/umputun/newsflow/pkg/config"
)

type fakeRegistry struct {
	addGlobalFn    func(ctx context.Context, chatID int64) error
	removeGlobalFn func(ctx context.Context, chatID int64) error
	followFn       func(ctx context.Context, feed string, chatID int64) error
	isGlobalFn     func(ctx context.Context, chatID int64) (bool, error)
	followsFn      func(ctx context.Context, chatID int64) ([]string, error)
}

func (f *fakeRegistry) AddGlobal(ctx context.Context, chatID int64) error {
	return f.addGlobalFn(ctx, chatID)
}
func (f *fakeRegistry) RemoveGlobal(ctx context.Context, chatID int64) error {
	return f.removeGlobalFn(ctx, chatID)
}
func (f *fakeRegistry) Follow(ctx context.Context, feed string, chatID int64) error {
	return f.followFn(ctx, feed, chatID)
}
func (f *fakeRegistry) IsGlobal(ctx context.Context, chatID int64) (bool, error) {
	return f.isGlobalFn(ctx, chatID)
}
func (f *fakeRegistry) Follows(ctx context.Context, chatID int64) ([]string, error) {
	return f.followsFn(ctx, chatID)
}

type fakeChecker struct {
	checkNowFn func(ctx context.Context, chatID int64) (int, error)
}

func (f *fakeChecker) CheckNow(ctx context.Context, chatID int64) (int, error) {
	return f.checkNowFn(ctx, chatID)
}

type fakeAuth struct {
	beginFn    func(chatID int64) (string, error)
	stateFn    func(state string) (int64, bool)
	completeFn func(ctx context.Context, chatID int64, code string) error
	statusFn   func(ctx context.Context) (auth.Status, error)
	logoutFn   func(ctx context.Context) error
}

func (f *fakeAuth) BeginSetup(chatID int64) (string, error) { return f.beginFn(chatID) }
func (f *fakeAuth) ChatForState(state string) (int64, bool) { return f.stateFn(state) }
func (f *fakeAuth) CompleteSetup(ctx context.Context, chatID int64, code string) error {
	return f.completeFn(ctx, chatID, code)
}
func (f *fakeAuth) GetStatus(ctx context.Context) (auth.Status, error) { return f.statusFn(ctx) }
func (f *fakeAuth) Logout(ctx context.Context) error                   { return f.logoutFn(ctx) }

func testConfig() *config.Config {
	return &config.Config{Feeds: []config.Feed{
		{Name: "hn", Kind: config.KindRSS, URL: "http://example.com/hn"},
		{Name: "golang", Kind: config.KindReddit, Source: config.SourceSubreddit, Target: "golang", Sort: "hot"},
	}}
}

func TestService_Follow(t *testing.T) {
	var gotFeed string
	var gotChat int64
	registry := &fakeRegistry{followFn: func(_ context.Context, feed string, chatID int64) error {
		gotFeed, gotChat = feed, chatID
		return nil
	}}
	svc := NewService(testConfig(), registry, nil, nil, nil)

	require.NoError(t, svc.Follow(context.Background(), 42, "  GoLang "))
	assert.Equal(t, "golang", gotFeed, "name canonicalized before storage")
	assert.Equal(t, int64(42), gotChat)

	err := svc.Follow(context.Background(), 42, "nope")
	assert.ErrorIs(t, err, ErrUnknownFeed)
}

func TestService_SubscribeUnsubscribe(t *testing.T) {
	calls := map[string]int64{}
	registry := &fakeRegistry{
		addGlobalFn:    func(_ context.Context, chatID int64) error { calls["add"] = chatID; return nil },
		removeGlobalFn: func(_ context.Context, chatID int64) error { calls["remove"] = chatID; return nil },
	}
	svc := NewService(testConfig(), registry, nil, nil, nil)

	require.NoError(t, svc.Subscribe(context.Background(), 42))
	require.NoError(t, svc.Unsubscribe(context.Background(), 42))
	assert.Equal(t, int64(42), calls["add"])
	assert.Equal(t, int64(42), calls["remove"])
}

func TestService_Status(t *testing.T) {
	registry := &fakeRegistry{
		isGlobalFn: func(_ context.Context, _ int64) (bool, error) { return true, nil },
		followsFn:  func(_ context.Context, _ int64) ([]string, error) { return []string{"zeta", "alpha"}, nil },
	}
	svc := NewService(testConfig(), registry, nil, nil, nil)

	st, err := svc.Status(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, st.Global)
	assert.Equal(t, []string{"alpha", "zeta"}, st.Follows, "follows sorted for stable output")
}

func TestService_Feeds(t *testing.T) {
	svc := NewService(testConfig(), nil, nil, nil, nil)
	feeds := svc.Feeds()
	require.Len(t, feeds, 2)
	assert.Equal(t, FeedInfo{Name: "hn", Kind: "rss"}, feeds[0])
	assert.Equal(t, FeedInfo{Name: "golang", Kind: "reddit"}, feeds[1])
}

func TestService_Check(t *testing.T) {
	checker := &fakeChecker{checkNowFn: func(_ context.Context, chatID int64) (int, error) {
		assert.Equal(t, int64(42), chatID)
		return 3, nil
	}}
	svc := NewService(testConfig(), nil, checker, nil, nil)

	count, err := svc.Check(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

type fakeCounter struct {
	countFn func(ctx context.Context) (int64, int64, error)
}

func (f *fakeCounter) CountItems(ctx context.Context) (int64, int64, error) { return f.countFn(ctx) }

func TestService_Stats(t *testing.T) {
	counter := &fakeCounter{countFn: func(context.Context) (int64, int64, error) { return 10, 7, nil }}
	svc := NewService(testConfig(), nil, nil, nil, counter)

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Feeds: 2, TotalItems: 10, SentItems: 7}, st)
}

func TestService_AuthLogin(t *testing.T) {
	a := &fakeAuth{beginFn: func(chatID int64) (string, error) {
		assert.Equal(t, int64(42), chatID)
		return "https://auth.example/authorize?state=s1", nil
	}}
	svc := NewService(testConfig(), nil, nil, a, nil)

	u, err := svc.AuthLogin(context.Background(), 42)
	require.NoError(t, err)
	assert.Contains(t, u, "state=s1")
}

func TestService_AuthLogin_NotConfigured(t *testing.T) {
	a := &fakeAuth{beginFn: func(int64) (string, error) { return "", auth.ErrNotConfigured }}
	svc := NewService(testConfig(), nil, nil, a, nil)

	_, err := svc.AuthLogin(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestService_AuthCallback(t *testing.T) {
	t.Run("completes for the owning chat", func(t *testing.T) {
		a := &fakeAuth{
			stateFn: func(state string) (int64, bool) {
				assert.Equal(t, "s1", state)
				return 42, true
			},
			completeFn: func(_ context.Context, chatID int64, code string) error {
				assert.Equal(t, int64(42), chatID)
				assert.Equal(t, "c1", code)
				return nil
			},
		}
		svc := NewService(testConfig(), nil, nil, a, nil)

		chatID, err := svc.AuthCallback(context.Background(), "s1", "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), chatID)
	})

	t.Run("unknown state rejected", func(t *testing.T) {
		a := &fakeAuth{stateFn: func(string) (int64, bool) { return 0, false }}
		svc := NewService(testConfig(), nil, nil, a, nil)

		_, err := svc.AuthCallback(context.Background(), "bogus", "c1")
		assert.ErrorIs(t, err, ErrBadAuthState)
	})

	t.Run("exchange failure surfaces", func(t *testing.T) {
		a := &fakeAuth{
			stateFn:    func(string) (int64, bool) { return 42, true },
			completeFn: func(context.Context, int64, string) error { return fmt.Errorf("exchange rejected") },
		}
		svc := NewService(testConfig(), nil, nil, a, nil)

		_, err := svc.AuthCallback(context.Background(), "s1", "c1")
		assert.ErrorContains(t, err, "exchange rejected")
	})
}

func TestService_AuthStatusAndLogout(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	loggedOut := false
	a := &fakeAuth{
		statusFn: func(context.Context) (auth.Status, error) {
			return auth.Status{Configured: true, HasToken: true, Username: "gopher", ExpiresAt: expires}, nil
		},
		logoutFn: func(context.Context) error { loggedOut = true; return nil },
	}
	svc := NewService(testConfig(), nil, nil, a, nil)

	st, err := svc.AuthStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.HasToken)
	assert.Equal(t, "gopher", st.Username)

	require.NoError(t, svc.AuthLogout(context.Background()))
	assert.True(t, loggedOut)
}
