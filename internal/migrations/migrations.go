// Package migrations embeds the schema of the database and applies it.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed *.sql
var schemaFS embed.FS

// Run brings the schema up to date and logs the version it ends up at.
//
// The migrator isn't closed afterwards: closing it would close dbx too.
func Run(dbx *sqlx.DB) error {
	src, err := iofs.New(schemaFS, ".")
	if err != nil {
		return fmt.Errorf("error reading embedded migrations: %s", err)
	}
	driver, err := sqlite.WithInstance(dbx.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("error preparing database for migration: %s", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("error creating migrator: %s", err)
	}

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("error migrating: %w", upErr)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("error reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty, fix it by hand", version)
	}
	slog.Info("schema ready", "version", version, "changed", upErr == nil)

	return nil
}
