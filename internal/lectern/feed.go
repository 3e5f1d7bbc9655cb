package lectern

import (
	"context"
	"time"
)

type (
	// Feed represents an RSS/Atom feed and the fingerprints of its last successful fetch.
	Feed struct {
		FeedID          int64     `db:"feed_id"`
		FeedURL         string    `db:"feed_url"`
		FeedTitle       *string   `db:"feed_title"`
		FeedContentHash int64     `db:"feed_content_hash"` // Hash of the raw fetched bytes
		FeedItemsHash   int64     `db:"feed_items_hash"`   // Hash over every item identity string
		CreatedAt       time.Time `db:"created_at"`
		UpdatedAt       time.Time `db:"updated_at"`
	}

	// FeedItem is a single entry of a feed. Created once and never changed.
	FeedItem struct {
		FeedItemID          int64     `db:"feed_item_id"`
		FeedID              int64     `db:"feed_id"`
		FeedItemHash        int64     `db:"feed_item_hash"`
		FeedItemURL         *string   `db:"feed_item_url"`
		FeedItemTitle       string    `db:"feed_item_title"`
		FeedItemDescription string    `db:"feed_item_description"`
		FeedItemAddedTime   time.Time `db:"feed_item_added_time"`
	}

	// FeedUpdate is the outcome of processing one feed during a fetch cycle.
	//
	// A nil NewItems means the feed is unchanged and nothing should be persisted for it.
	// An empty, non-nil NewItems still persists the new hashes.
	FeedUpdate struct {
		Feed            Feed
		NewItems        []FeedItem
		FeedContentHash int64
		FeedItemsHash   int64
		FeedTitle       string
	}

	// FeedImportService is the persistence surface the fetcher relies on.
	FeedImportService interface {
		Transactor

		// FeedsForUpdate lists the feeds to fetch in a cycle.
		FeedsForUpdate(ctx context.Context) ([]Feed, error)
		// MissingFeedItems returns the subset of hashes not yet stored for the feed.
		MissingFeedItems(ctx context.Context, feedID int64, hashes []int64) ([]int64, error)
		// ApplyUpdate inserts the new items and stores the new hashes of the feed.
		ApplyUpdate(ctx context.Context, update FeedUpdate) error
	}

	// ContentProvider fetches the raw bytes of a feed.
	ContentProvider interface {
		FeedContent(ctx context.Context, feed Feed) ([]byte, error)
	}
)

// Unchanged creates an update that persists nothing for the feed.
func Unchanged(feed Feed) FeedUpdate {
	return FeedUpdate{
		Feed:            feed,
		FeedContentHash: feed.FeedContentHash,
		FeedItemsHash:   feed.FeedItemsHash,
	}
}

// Changed reports whether the update has anything to persist.
func (u FeedUpdate) Changed() bool {
	return u.NewItems != nil
}
