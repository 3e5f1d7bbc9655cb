// The api serves lectern's RPC surface over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"

	"github.com/jdholdren/lectern/internal/api"
	"github.com/jdholdren/lectern/internal/auth"
	"github.com/jdholdren/lectern/internal/database"
	"github.com/jdholdren/lectern/internal/handlers"
	"github.com/jdholdren/lectern/internal/logger"
	"github.com/jdholdren/lectern/internal/sqlite"
)

type config struct {
	Database string `env:"DATABASE, required"`

	Port           int           `env:"PORT, default=4444"`
	HTTPSCookies   bool          `env:"HTTPS_COOKIES, default=false"`
	CookieHashKey  string        `env:"COOKIE_HASH_KEY"`
	CookieBlockKey string        `env:"COOKIE_BLOCK_KEY"`
	CorsOrigin     string        `env:"CORS_ORIGIN"`
	SessionTTL     time.Duration `env:"SESSION_TTL, default=720h"`
	// Shows the detail of unexpected errors to clients, never turn this on in production
	DebugErrors bool `env:"DEBUG_ERRORS, default=false"`

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

	slog.SetDefault(slog.New(logger.NewContextHandler(logHandler(cfg.LoggerFormat))))

	if err := runServer(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func logHandler(format string) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, nil)
	}
	return slog.NewTextHandler(os.Stderr, nil)
}

func runServer(ctx context.Context, cfg config) error {
	dbx, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer dbx.Close()

	repo := sqlite.New(dbx)
	sessions, err := auth.NewSessions(auth.SessionsConfig{
		CookieHashKey:  []byte(cfg.CookieHashKey),
		CookieBlockKey: []byte(cfg.CookieBlockKey),
		HttpsCookies:   cfg.HTTPSCookies,
		TTL:            cfg.SessionTTL,
	}, repo)
	if err != nil {
		return err
	}
	profiles, err := handlers.NewProfileCache(1024)
	if err != nil {
		return fmt.Errorf("error creating profile cache: %s", err)
	}

	engine, err := handlers.NewEngine(ctx, handlers.Deps{
		Users:         repo,
		Subscriptions: repo,
		Sessions:      sessions,
		Profiles:      profiles,
	}, repo, cfg.DebugErrors)
	if err != nil {
		return err
	}
	s := api.NewServer(api.ServerConfig{
		Port:       cfg.Port,
		CorsOrigin: cfg.CorsOrigin,
	}, engine)

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		slog.Info("listening", "port", cfg.Port)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}
		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})

	var sigErr run.SignalError
	if err := g.Run(); err != nil && !errors.As(err, &sigErr) {
		return err
	}

	return nil
}
