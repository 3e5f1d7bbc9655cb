// Package database opens lectern's SQLite database, ready to use.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/lectern/internal/migrations"
)

// DSN builds the connection string of the database at path.
//
// Transactions take the write lock when they begin so that the fetcher and the api never
// deadlock upgrading read locks.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite", path)
}

// Open connects to the database at path and brings its schema up to date.
//
// The first connection is retried for a little while, another process might be holding the
// database while migrating it.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	dbx, err := sqlx.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %s", err)
	}

	backoff := retry.WithMaxDuration(30*time.Second, retry.NewFibonacci(250*time.Millisecond))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := dbx.PingContext(ctx); err != nil {
			slog.WarnContext(ctx, "database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	return dbx, nil
}
