package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/lectern/internal/lectern"
)

func (r Repo) InsertSession(ctx context.Context, sess lectern.Session) error {
	const q = `INSERT INTO sessions (session_id, user_id, csrf_token, expires_at)
	VALUES (:session_id, :user_id, :csrf_token, :expires_at);`

	if _, err := sqlx.NamedExecContext(ctx, r.ext(ctx), q, sess); err != nil {
		return fmt.Errorf("error inserting session: %s", err)
	}

	return nil
}

func (r Repo) Session(ctx context.Context, id string) (lectern.Session, error) {
	const q = `SELECT * FROM sessions WHERE session_id = ?;`

	var sess lectern.Session
	err := sqlx.GetContext(ctx, r.ext(ctx), &sess, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return lectern.Session{}, lectern.ErrNotFound
	}
	if err != nil {
		return lectern.Session{}, fmt.Errorf("error fetching session: %s", err)
	}

	return sess, nil
}

func (r Repo) DeleteSession(ctx context.Context, id string) error {
	const q = `DELETE FROM sessions WHERE session_id = ?;`

	if _, err := r.ext(ctx).ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("error deleting session: %s", err)
	}

	return nil
}
