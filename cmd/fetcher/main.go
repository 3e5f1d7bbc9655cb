// The fetcher keeps every subscribed feed up to date, fetching them all once per cycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/lectern/internal/database"
	"github.com/jdholdren/lectern/internal/fetcher"
	"github.com/jdholdren/lectern/internal/logger"
	"github.com/jdholdren/lectern/internal/sqlite"
	feedsync "github.com/jdholdren/lectern/internal/sync"
)

type config struct {
	Database string `env:"DATABASE, required"`

	Parallel    bool          `env:"FETCH_PARALLEL, default=true"`
	Concurrency int           `env:"FETCH_CONCURRENCY, default=8"`
	Pause       time.Duration `env:"FETCH_PAUSE, default=15m"`
	Timeout     time.Duration `env:"FETCH_TIMEOUT, default=10s"`
	UserAgent   string        `env:"FETCH_USER_AGENT, default=lectern/1.0 (+https://github.com/jdholdren/lectern)"`
	MaxRetries  uint64        `env:"FETCH_MAX_RETRIES, default=2"`
	// Requests per second across all feeds
	Rate float64 `env:"FETCH_RATE, default=5"`
	// Run a single cycle and exit
	Once bool `env:"FETCH_ONCE, default=false"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

func main() {
	ctx := context.Background()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if cfg.LoggerFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(logger.NewContextHandler(handler)))

	if err := runFetcher(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runFetcher(ctx context.Context, cfg config) error {
	dbx, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer dbx.Close()

	f := fetcher.New(
		fetcher.Config{
			Parallel:    cfg.Parallel,
			Concurrency: cfg.Concurrency,
			Pause:       cfg.Pause,
		},
		sqlite.New(dbx),
		feedsync.NewContentProvider(feedsync.ContentConfig{
			Timeout:           cfg.Timeout,
			UserAgent:         cfg.UserAgent,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.Rate,
		}),
		feedsync.NewParser(),
	)

	if cfg.Once {
		stats, err := f.Cycle(ctx)
		if err != nil {
			return fmt.Errorf("error running fetch cycle: %w", err)
		}
		slog.Info("fetch cycle complete", "feeds", stats.Feeds, "changed_feeds", stats.ChangedFeeds, "new_items", stats.NewItems)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		return f.Run(runCtx)
	}, func(error) {
		cancel()
	})

	var sigErr run.SignalError
	if err := g.Run(); err != nil && !errors.As(err, &sigErr) {
		return err
	}

	return nil
}
