package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Subscriptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddGlobal(ctx, 100))
	require.NoError(t, s.Follow(ctx, "golang", 200))
	require.NoError(t, s.Follow(ctx, "golang", 300))
	require.NoError(t, s.Follow(ctx, "news", 300))

	subs, err := s.Subscribers(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200, 300}, subs, "global union feed-specific")

	subs, err = s.Subscribers(ctx, "news")
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 300}, subs)

	subs, err = s.Subscribers(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, subs, "global subscribers receive every feed")
}

func TestStore_Subscriptions_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddGlobal(ctx, 100))
	require.NoError(t, s.AddGlobal(ctx, 100))
	require.NoError(t, s.Follow(ctx, "golang", 100))
	require.NoError(t, s.Follow(ctx, "golang", 100))

	subs, err := s.Subscribers(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, subs)
}

func TestStore_Follow_EmptyName(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Follow(context.Background(), "", 100))
}

func TestStore_RemoveGlobal_KeepsFollows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddGlobal(ctx, 100))
	require.NoError(t, s.Follow(ctx, "golang", 100))
	require.NoError(t, s.RemoveGlobal(ctx, 100))

	global, err := s.IsGlobal(ctx, 100)
	require.NoError(t, err)
	assert.False(t, global)

	feeds, err := s.Follows(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"golang"}, feeds)
}

func TestStore_Evict_RemovesEverywhere(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddGlobal(ctx, 100))
	require.NoError(t, s.Follow(ctx, "golang", 100))
	require.NoError(t, s.Follow(ctx, "news", 100))
	require.NoError(t, s.Follow(ctx, "golang", 200))

	require.NoError(t, s.Evict(ctx, 100))

	global, err := s.IsGlobal(ctx, 100)
	require.NoError(t, err)
	assert.False(t, global)

	feeds, err := s.Follows(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, feeds)

	// other chats unaffected
	subs, err := s.Subscribers(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, []int64{200}, subs)
}

func TestStore_Credentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// missing key reads as empty
	v, err := s.GetCredential(ctx, "reddit.access_token")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetCredential(ctx, "reddit.access_token", "tok1"))
	require.NoError(t, s.SetCredential(ctx, "reddit.refresh_token", "ref1"))

	v, err = s.GetCredential(ctx, "reddit.access_token")
	require.NoError(t, err)
	assert.Equal(t, "tok1", v)

	// overwrite in place
	require.NoError(t, s.SetCredential(ctx, "reddit.access_token", "tok2"))
	v, err = s.GetCredential(ctx, "reddit.access_token")
	require.NoError(t, err)
	assert.Equal(t, "tok2", v)

	require.NoError(t, s.DeleteCredential(ctx, "reddit.access_token"))
	v, err = s.GetCredential(ctx, "reddit.access_token")
	require.NoError(t, err)
	assert.Empty(t, v)

	// prefix wipe removes the rest
	require.NoError(t, s.DeleteCredentials(ctx, "reddit."))
	v, err = s.GetCredential(ctx, "reddit.refresh_token")
	require.NoError(t, err)
	assert.Empty(t, v)
}
