package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/lectern/internal/lectern"
)

func (r Repo) InsertUser(ctx context.Context, usr lectern.User) (lectern.User, error) {
	const q = `INSERT INTO users (username, password_hash, display_name, email)
	VALUES (:username, :password_hash, :display_name, :email);`

	res, err := sqlx.NamedExecContext(ctx, r.ext(ctx), q, usr)
	if isConflict(err) {
		return lectern.User{}, fmt.Errorf("user already exists: %w", lectern.ErrConflict)
	}
	if err != nil {
		return lectern.User{}, fmt.Errorf("error inserting user: %s", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return lectern.User{}, fmt.Errorf("error reading inserted user id: %s", err)
	}

	return r.User(ctx, id)
}

func (r Repo) User(ctx context.Context, id int64) (lectern.User, error) {
	const q = `SELECT * FROM users WHERE user_id = ?;`

	var usr lectern.User
	err := sqlx.GetContext(ctx, r.ext(ctx), &usr, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return lectern.User{}, lectern.ErrNotFound
	}
	if err != nil {
		return lectern.User{}, fmt.Errorf("error fetching user: %s", err)
	}

	return usr, nil
}

func (r Repo) UserByUsername(ctx context.Context, username string) (lectern.User, error) {
	const q = `SELECT * FROM users WHERE username = ?;`

	var usr lectern.User
	err := sqlx.GetContext(ctx, r.ext(ctx), &usr, q, username)
	if errors.Is(err, sql.ErrNoRows) {
		return lectern.User{}, lectern.ErrNotFound
	}
	if err != nil {
		return lectern.User{}, fmt.Errorf("error fetching user: %s", err)
	}

	return usr, nil
}

// UpdateProfile sets the non-empty fields of args and returns the updated user.
func (r Repo) UpdateProfile(ctx context.Context, id int64, args lectern.UpdateProfileArgs) (lectern.User, error) {
	q := sq.Update("users").Set("updated_at", time.Now().UTC())
	if args.DisplayName != "" {
		q = q.Set("display_name", args.DisplayName)
	}
	if args.Email != "" {
		q = q.Set("email", args.Email)
	}
	q = q.Where(sq.Eq{"user_id": id})

	query, qArgs, err := q.ToSql()
	if err != nil {
		return lectern.User{}, fmt.Errorf("error constructing sql: %s", err)
	}
	res, err := r.ext(ctx).ExecContext(ctx, query, qArgs...)
	if err != nil {
		return lectern.User{}, fmt.Errorf("error executing profile update: %s", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return lectern.User{}, lectern.ErrNotFound
	}

	return r.User(ctx, id)
}
