package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// FeedKind is a closed set of feed source kinds, validated at load time.
// Scheduler code switches on the kind, never on ad hoc field probing.
type FeedKind string

// feed source kinds
const (
	KindRSS    FeedKind = "rss"
	KindReddit FeedKind = "reddit"
)

// RedditSource is a closed set of addressing modes for the reddit kind
type RedditSource string

// reddit addressing modes
const (
	SourceHome      RedditSource = "home"
	SourceSaved     RedditSource = "saved"
	SourceSubreddit RedditSource = "subreddit"
)

// Feed describes one configured feed source
type Feed struct {
	Name string   `yaml:"name" json:"name" jsonschema:"required,description=Unique feed name (normalized to lower case)"`
	Kind FeedKind `yaml:"kind" json:"kind" jsonschema:"default=rss,enum=rss,enum=reddit,description=Feed source kind"`

	// rss kind
	URL string `yaml:"url" json:"url,omitempty" jsonschema:"description=Feed URL (rss kind only)"`

	// reddit kind
	Source RedditSource `yaml:"source" json:"source,omitempty" jsonschema:"enum=home,enum=saved,enum=subreddit,description=Reddit listing to read (reddit kind only)"`
	Target string       `yaml:"target" json:"target,omitempty" jsonschema:"description=Subreddit name for the subreddit source"`
	Sort   string       `yaml:"sort" json:"sort,omitempty" jsonschema:"description=Listing sort hint (hot, new, top, best)"`
}

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Control server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:newsflow.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Schedule struct {
		UpdateInterval time.Duration `yaml:"update_interval" json:"update_interval" jsonschema:"default=5m,description=Periodic sweep interval"`
		FeedLimit      int           `yaml:"feed_limit" json:"feed_limit" jsonschema:"default=10,description=Per-feed fetch cap for the periodic sweep"`
		CheckLimit     int           `yaml:"check_limit" json:"check_limit" jsonschema:"default=3,description=Per-feed fetch cap for on-demand checks"`
		SendDelay      time.Duration `yaml:"send_delay" json:"send_delay" jsonschema:"default=1s,description=Delay between consecutive outbound sends"`
		MaxWorkers     int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=4,description=Maximum feeds processed concurrently"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Sweep scheduler configuration"`

	Telegram struct {
		Token   string        `yaml:"token" json:"token" jsonschema:"description=Bot API token (can use environment variable)"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Bot API request timeout"`
	} `yaml:"telegram" json:"telegram" jsonschema:"description=Outbound delivery configuration"`

	Reddit struct {
		ClientID     string        `yaml:"client_id" json:"client_id" jsonschema:"description=OAuth application client id"`
		ClientSecret string        `yaml:"client_secret" json:"client_secret" jsonschema:"description=OAuth application client secret (can use environment variable)"`
		RedirectURL  string        `yaml:"redirect_url" json:"redirect_url" jsonschema:"description=Authorized redirect URL pointing at the auth callback endpoint"`
		UserAgent    string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=newsflow/1.0,description=User agent for reddit API requests"`
		Timeout      time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Reddit API request timeout"`
	} `yaml:"reddit" json:"reddit" jsonschema:"description=Reddit OAuth and API configuration"`

	Feeds []Feed `yaml:"feeds" json:"feeds" jsonschema:"description=Configured feed sources"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:newsflow.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	if cfg.Schedule.UpdateInterval == 0 {
		cfg.Schedule.UpdateInterval = 5 * time.Minute
	}
	if cfg.Schedule.FeedLimit == 0 {
		cfg.Schedule.FeedLimit = 10
	}
	if cfg.Schedule.CheckLimit == 0 {
		cfg.Schedule.CheckLimit = 3
	}
	if cfg.Schedule.SendDelay == 0 {
		cfg.Schedule.SendDelay = time.Second
	}
	if cfg.Schedule.MaxWorkers == 0 {
		cfg.Schedule.MaxWorkers = 4
	}

	if cfg.Telegram.Timeout == 0 {
		cfg.Telegram.Timeout = 30 * time.Second
	}

	if cfg.Reddit.UserAgent == "" {
		cfg.Reddit.UserAgent = "newsflow/1.0"
	}
	if cfg.Reddit.Timeout == 0 {
		cfg.Reddit.Timeout = 30 * time.Second
	}

	// normalize feed descriptors
	for i := range cfg.Feeds {
		f := &cfg.Feeds[i]
		f.Name = strings.ToLower(strings.TrimSpace(f.Name))
		if f.Kind == "" {
			f.Kind = KindRSS
		}
		if f.Kind == KindReddit && f.Sort == "" {
			f.Sort = "hot"
		}
	}
}

// validate checks configuration for correctness, rejecting malformed feed
// descriptors once at load so the scheduler can trust the closed variants
func validate(cfg *Config) error {
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}
	if cfg.Schedule.UpdateInterval < time.Second {
		return fmt.Errorf("schedule.update_interval must be at least 1 second")
	}

	seen := map[string]bool{}
	for i, f := range cfg.Feeds {
		if f.Name == "" {
			return fmt.Errorf("feeds[%d]: name is required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("feeds[%d]: duplicate name %q", i, f.Name)
		}
		seen[f.Name] = true

		switch f.Kind {
		case KindRSS:
			if f.URL == "" {
				return fmt.Errorf("feed %q: url is required for rss kind", f.Name)
			}
		case KindReddit:
			switch f.Source {
			case SourceHome, SourceSaved:
			case SourceSubreddit:
				if f.Target == "" {
					return fmt.Errorf("feed %q: target is required for subreddit source", f.Name)
				}
			default:
				return fmt.Errorf("feed %q: unknown reddit source %q", f.Name, f.Source)
			}
			switch f.Sort {
			case "hot", "new", "top", "best", "rising":
			default:
				return fmt.Errorf("feed %q: unknown sort %q", f.Name, f.Sort)
			}
		default:
			return fmt.Errorf("feed %q: unknown kind %q", f.Name, f.Kind)
		}
	}

	return nil
}

// FeedNames returns configured feed names in order
func (c *Config) FeedNames() []string {
	names := make([]string, len(c.Feeds))
	for i, f := range c.Feeds {
		names[i] = f.Name
	}
	return names
}

// FeedByName returns the descriptor for a normalized feed name
func (c *Config) FeedByName(name string) (Feed, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range c.Feeds {
		if f.Name == name {
			return f, true
		}
	}
	return Feed{}, false
}

// HasRedditFeeds reports whether any configured feed needs reddit credentials
func (c *Config) HasRedditFeeds() bool {
	for _, f := range c.Feeds {
		if f.Kind == KindReddit {
			return true
		}
	}
	return false
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}
