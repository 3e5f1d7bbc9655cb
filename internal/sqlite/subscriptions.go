package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/lectern/internal/lectern"
)

func (r Repo) CreateSubscription(ctx context.Context, userID, feedID int64) error {
	const q = `INSERT OR IGNORE INTO subscriptions (user_id, feed_id) VALUES (?, ?);`

	if _, err := r.ext(ctx).ExecContext(ctx, q, userID, feedID); err != nil {
		return fmt.Errorf("error creating subscription: %w", err)
	}

	return nil
}

func (r Repo) UserSubscriptions(ctx context.Context, userID int64) ([]lectern.SubscribedFeed, error) {
	const q = `
	SELECT
		feeds.*,
		subs.created_at AS subscribed_at
	FROM
		feeds
		INNER JOIN subscriptions subs ON subs.feed_id = feeds.feed_id
	WHERE subs.user_id = ?
	ORDER BY subs.created_at DESC, feeds.feed_id DESC;
	`

	subs := []lectern.SubscribedFeed{}
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &subs, q, userID); err != nil {
		return nil, fmt.Errorf("error selecting subscriptions: %s", err)
	}

	return subs, nil
}

// UserFeedItems pages through the items of the user's subscribed feeds, returning the page and
// the total number of matching items.
func (r Repo) UserFeedItems(ctx context.Context, userID, feedID int64, limit, offset int) ([]lectern.FeedItem, int, error) {
	where := sq.Eq{"subs.user_id": userID}
	if feedID != 0 {
		where["fi.feed_id"] = feedID
	}

	countQuery, countArgs, err := sq.Select("COUNT(*)").
		From("feed_items fi").
		Join("subscriptions subs ON subs.feed_id = fi.feed_id").
		Where(where).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("error constructing sql: %s", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, r.ext(ctx), &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("error counting feed items: %s", err)
	}

	query, args, err := sq.Select("fi.*").
		From("feed_items fi").
		Join("subscriptions subs ON subs.feed_id = fi.feed_id").
		Where(where).
		OrderBy("fi.feed_item_added_time DESC", "fi.feed_item_id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("error constructing sql: %s", err)
	}

	items := []lectern.FeedItem{}
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("error selecting feed items: %s", err)
	}

	return items, total, nil
}
