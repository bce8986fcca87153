package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
database:
  dsn: "file:test.db?mode=memory"
schedule:
  update_interval: 2m
  feed_limit: 20
feeds:
  - name: HackerNews
    url: https://news.ycombinator.com/rss
  - name: golang
    kind: reddit
    source: subreddit
    target: golang
  - name: saved
    kind: reddit
    source: saved
    sort: new
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout, "default applied")
	assert.Equal(t, 2*time.Minute, cfg.Schedule.UpdateInterval)
	assert.Equal(t, 20, cfg.Schedule.FeedLimit)
	assert.Equal(t, 3, cfg.Schedule.CheckLimit, "default applied")
	assert.Equal(t, time.Second, cfg.Schedule.SendDelay, "default applied")

	require.Len(t, cfg.Feeds, 3)
	assert.Equal(t, "hackernews", cfg.Feeds[0].Name, "names normalized to lower case")
	assert.Equal(t, KindRSS, cfg.Feeds[0].Kind, "kind defaults to rss")
	assert.Equal(t, KindReddit, cfg.Feeds[1].Kind)
	assert.Equal(t, SourceSubreddit, cfg.Feeds[1].Source)
	assert.Equal(t, "hot", cfg.Feeds[1].Sort, "sort defaults to hot")
	assert.Equal(t, "new", cfg.Feeds[2].Sort)
	assert.True(t, cfg.HasRedditFeeds())
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_REDDIT_SECRET", "s3cret")
	path := writeConfig(t, `
reddit:
  client_id: cid
  client_secret: ${TEST_REDDIT_SECRET}
  redirect_url: http://localhost:8080/auth/reddit/callback
feeds: []
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Reddit.ClientSecret)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "rss without url",
			content: "feeds:\n  - name: broken\n",
			errMsg:  "url is required",
		},
		{
			name:    "duplicate names",
			content: "feeds:\n  - name: a\n    url: http://x\n  - name: A\n    url: http://y\n",
			errMsg:  "duplicate name",
		},
		{
			name:    "unknown kind",
			content: "feeds:\n  - name: a\n    kind: nntp\n",
			errMsg:  "unknown kind",
		},
		{
			name:    "subreddit without target",
			content: "feeds:\n  - name: a\n    kind: reddit\n    source: subreddit\n",
			errMsg:  "target is required",
		},
		{
			name:    "unknown reddit source",
			content: "feeds:\n  - name: a\n    kind: reddit\n    source: frontpage\n",
			errMsg:  "unknown reddit source",
		},
		{
			name:    "unknown sort",
			content: "feeds:\n  - name: a\n    kind: reddit\n    source: home\n    sort: controversial-ish\n",
			errMsg:  "unknown sort",
		},
		{
			name:    "missing name",
			content: "feeds:\n  - url: http://x\n",
			errMsg:  "name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	require.Error(t, err)
}

func TestConfig_FeedByName(t *testing.T) {
	path := writeConfig(t, `
feeds:
  - name: golang
    kind: reddit
    source: subreddit
    target: golang
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	f, ok := cfg.FeedByName(" Golang ")
	assert.True(t, ok)
	assert.Equal(t, "golang", f.Target)

	_, ok = cfg.FeedByName("unknown")
	assert.False(t, ok)

	assert.Equal(t, []string{"golang"}, cfg.FeedNames())
}

func TestGenerateSchema(t *testing.T) {
	schema, err := GenerateSchema()
	require.NoError(t, err)
	assert.NotNil(t, schema)
}
