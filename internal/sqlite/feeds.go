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

// Keeps the number of bound parameters of a single statement well under SQLite's limit.
const batchSize = 500

func (r Repo) Feed(ctx context.Context, id int64) (lectern.Feed, error) {
	const q = `SELECT * FROM feeds WHERE feed_id = ?;`

	var feed lectern.Feed
	err := sqlx.GetContext(ctx, r.ext(ctx), &feed, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return lectern.Feed{}, lectern.ErrNotFound
	}
	if err != nil {
		return lectern.Feed{}, fmt.Errorf("error fetching feed: %s", err)
	}

	return feed, nil
}

func (r Repo) FeedByURL(ctx context.Context, url string) (lectern.Feed, error) {
	const q = `SELECT * FROM feeds WHERE feed_url = ?;`

	var feed lectern.Feed
	err := sqlx.GetContext(ctx, r.ext(ctx), &feed, q, url)
	if errors.Is(err, sql.ErrNoRows) {
		return lectern.Feed{}, lectern.ErrNotFound
	}
	if err != nil {
		return lectern.Feed{}, fmt.Errorf("error fetching feed: %s", err)
	}

	return feed, nil
}

// EnsureFeed inserts the feed if no feed has the url yet, then returns it.
func (r Repo) EnsureFeed(ctx context.Context, url string) (lectern.Feed, error) {
	const q = `INSERT INTO feeds (feed_url) VALUES (?) ON CONFLICT (feed_url) DO NOTHING;`

	if _, err := r.ext(ctx).ExecContext(ctx, q, url); err != nil {
		return lectern.Feed{}, fmt.Errorf("error inserting feed: %s", err)
	}

	return r.FeedByURL(ctx, url)
}

// FeedsForUpdate retrieves _all_ feeds, newest first.
func (r Repo) FeedsForUpdate(ctx context.Context) ([]lectern.Feed, error) {
	const q = `SELECT * FROM feeds ORDER BY feed_id DESC;`

	var feeds []lectern.Feed
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &feeds, q); err != nil {
		return nil, fmt.Errorf("error selecting feeds for update: %s", err)
	}

	return feeds, nil
}

// MissingFeedItems returns the hashes that aren't stored for the feed yet, in the order given.
func (r Repo) MissingFeedItems(ctx context.Context, feedID int64, hashes []int64) ([]int64, error) {
	missing := []int64{}
	if len(hashes) == 0 {
		return missing, nil
	}

	stored := make(map[int64]struct{}, len(hashes))
	for start := 0; start < len(hashes); start += batchSize {
		chunk := hashes[start:min(start+batchSize, len(hashes))]

		query, args, err := sq.Select("feed_item_hash").
			From("feed_items").
			Where(sq.Eq{"feed_id": feedID, "feed_item_hash": chunk}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("error constructing sql: %s", err)
		}

		var found []int64
		if err := sqlx.SelectContext(ctx, r.ext(ctx), &found, query, args...); err != nil {
			return nil, fmt.Errorf("error selecting stored feed items: %s", err)
		}
		for _, h := range found {
			stored[h] = struct{}{}
		}
	}

	for _, h := range hashes {
		if _, ok := stored[h]; !ok {
			missing = append(missing, h)
		}
	}

	return missing, nil
}

// ApplyUpdate inserts the update's new items and records the feed's new hashes.
//
// Meant to be called inside [Repo.InTx] along with the rest of a cycle's updates.
func (r Repo) ApplyUpdate(ctx context.Context, update lectern.FeedUpdate) error {
	if err := r.insertFeedItems(ctx, update.Feed.FeedID, update.NewItems); err != nil {
		return err
	}

	q := sq.Update("feeds").
		Set("feed_content_hash", update.FeedContentHash).
		Set("feed_items_hash", update.FeedItemsHash).
		Set("updated_at", time.Now().UTC())
	if update.FeedTitle != "" {
		q = q.Set("feed_title", update.FeedTitle)
	}
	q = q.Where(sq.Eq{"feed_id": update.Feed.FeedID})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}
	if _, err := r.ext(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error executing feed update: %s", err)
	}

	return nil
}

func (r Repo) insertFeedItems(ctx context.Context, feedID int64, items []lectern.FeedItem) error {
	const q = `INSERT INTO feed_items (feed_id, feed_item_hash, feed_item_url, feed_item_title, feed_item_description, feed_item_added_time)
	VALUES (:feed_id, :feed_item_hash, :feed_item_url, :feed_item_title, :feed_item_description, :feed_item_added_time)
	ON CONFLICT (feed_id, feed_item_hash) DO NOTHING;`

	for start := 0; start < len(items); start += batchSize {
		chunk := items[start:min(start+batchSize, len(items))]
		for i := range chunk {
			chunk[i].FeedID = feedID
		}

		if _, err := sqlx.NamedExecContext(ctx, r.ext(ctx), q, chunk); err != nil {
			return fmt.Errorf("error inserting feed items: %s", err)
		}
	}

	return nil
}
