// Package sqlite implements the persistence contracts of lectern on top of SQLite.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jdholdren/lectern/internal/lectern"
)

// Ensure Repo implements the interfaces it's handed out as.
var (
	_ lectern.FeedImportService = Repo{}
	_ lectern.UserRepo          = Repo{}
	_ lectern.SessionRepo       = Repo{}
	_ lectern.SubscriptionRepo  = Repo{}
)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}

type txKey struct{}

// Either the transaction carried by the context, or the database itself.
func (r Repo) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}

	return r.db
}

// InTx runs fn inside a transaction, committing when it returns nil.
//
// Calls made with the context handed to fn use the transaction. Nested calls join the outer
// transaction instead of starting a new one.
func (r Repo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "error rolling back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// Reports if the error is a violated unique or primary key constraint.
func isConflict(err error) bool {
	sqliteErr := &sqlite.Error{}
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
