package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/newsflow/pkg/auth"
	"github.com/umputun/newsflow/pkg/commands"
	"github.com/umputun/newsflow/pkg/config"
	"github.com/umputun/newsflow/pkg/fetcher"
	"github.com/umputun/newsflow/pkg/notify"
	"github.com/umputun/newsflow/pkg/scheduler"
	"github.com/umputun/newsflow/pkg/store"
	"github.com/umputun/newsflow/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"f" long:"config" env:"CONFIG" default:"config.yml" description:"config file path"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	setupLog(opts.Debug, opts.NoColor, cfg.Telegram.Token, cfg.Reddit.ClientSecret)

	log.Printf("[INFO] starting newsflow version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts.Debug); err != nil {
		log.Printf("[ERROR] newsflow failed: %v", err)
		cancel()
		os.Exit(1)
	}

	cancel()
	log.Print("[INFO] shutdown complete")
}

// run wires the components together and blocks until the context is canceled
func run(ctx context.Context, cfg *config.Config, debug bool) error {
	// the store is the only hard startup dependency, everything else
	// degrades at runtime instead of refusing to start
	db, err := store.New(store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	authManager := auth.NewManager(db, auth.Opts{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		RedirectURL:  cfg.Reddit.RedirectURL,
		UserAgent:    cfg.Reddit.UserAgent,
		Timeout:      cfg.Reddit.Timeout,
	})

	fetchers := map[config.FeedKind]scheduler.Fetcher{
		config.KindRSS:    fetcher.NewRSS(30*time.Second, cfg.Reddit.UserAgent),
		config.KindReddit: fetcher.NewReddit(authManager, cfg.Reddit.Timeout, cfg.Reddit.UserAgent, ""),
	}

	notifier := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.Timeout, "")

	sched := scheduler.NewScheduler(scheduler.Params{
		Store:          db,
		Registry:       db,
		Notifier:       notifier,
		Fetchers:       fetchers,
		Feeds:          cfg.Feeds,
		UpdateInterval: cfg.Schedule.UpdateInterval,
		FeedLimit:      cfg.Schedule.FeedLimit,
		CheckLimit:     cfg.Schedule.CheckLimit,
		SendDelay:      cfg.Schedule.SendDelay,
		MaxWorkers:     cfg.Schedule.MaxWorkers,
	})
	sched.Start(ctx)
	defer sched.Stop()

	cmds := commands.NewService(cfg, db, sched, authManager, db)
	srv := server.New(cfg, cmds, revision, debug)

	return srv.Run(ctx)
}

func setupLog(dbg, noColor bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}

	var cleaned []string
	for _, s := range secrets {
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) > 0 {
		logOpts = append(logOpts, lgr.Secret(cleaned...))
	}

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
