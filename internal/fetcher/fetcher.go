// Package fetcher runs fetch cycles: every known feed is downloaded, parsed and diffed against
// what's stored, then every change of the cycle is committed in a single transaction.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	lecerrs "github.com/jdholdren/lectern/internal/errors"
	"github.com/jdholdren/lectern/internal/hash"
	"github.com/jdholdren/lectern/internal/lectern"
	"github.com/jdholdren/lectern/internal/logger"
	feedsync "github.com/jdholdren/lectern/internal/sync"
)

// Fingerprints of the failures that degrade a single feed to unchanged.
const (
	FingerprintHTTPRequestFailed lecerrs.Fingerprint = "FEED_HTTP_REQUEST_FAILED"
	FingerprintUTF8DecodeFailed  lecerrs.Fingerprint = "FEED_UTF8_DECODE_FAILED"
	FingerprintParseFailed       lecerrs.Fingerprint = "FEED_PARSE_FAILED"
	FingerprintProcessingFailed  lecerrs.Fingerprint = "FEED_PROCESSING_FAILED"
)

// Name of the lock serializing the missing items lookups of a cycle.
const missingItemsLockName = "missing-feed-items"

var utf8BOM = []byte("\xef\xbb\xbf")

type (
	// Parser turns decoded feed text into items.
	Parser interface {
		Parse(ctx context.Context, text string) (feedsync.ParsedFeed, error)
	}

	Config struct {
		// Process the feeds of a cycle concurrently instead of one after the other.
		Parallel bool
		// Upper bound of feeds processed at once when Parallel, 0 means no bound.
		Concurrency int
		// How long to wait between the end of a cycle and the start of the next.
		Pause time.Duration
	}

	// CycleStats summarizes a finished cycle.
	CycleStats struct {
		Feeds        int
		ChangedFeeds int
		NewItems     int
	}

	Fetcher struct {
		imports lectern.FeedImportService
		content lectern.ContentProvider
		parser  Parser
		cfg     Config

		// Held only around the missing items lookup, shared by every feed of a cycle.
		missingItemsLock *semaphore.Weighted
	}
)

func New(cfg Config, imports lectern.FeedImportService, content lectern.ContentProvider, parser Parser) *Fetcher {
	return &Fetcher{
		imports:          imports,
		content:          content,
		parser:           parser,
		cfg:              cfg,
		missingItemsLock: semaphore.NewWeighted(1),
	}
}

// Run performs cycles until the context is canceled.
//
// A failed cycle is logged and the next one is attempted after the pause.
func (f *Fetcher) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "fetcher started", "parallel", f.cfg.Parallel, "pause", f.cfg.Pause)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "fetcher stopped")
			return nil
		case <-timer.C:
		}

		start := time.Now()
		stats, err := f.Cycle(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "fetch cycle failed", logger.Err(err), "duration", time.Since(start))
		} else {
			slog.InfoContext(ctx, "fetch cycle complete",
				"feeds", stats.Feeds,
				"changed_feeds", stats.ChangedFeeds,
				"new_items", stats.NewItems,
				"duration", time.Since(start),
			)
		}

		timer.Reset(f.cfg.Pause)
	}
}

// Cycle fetches every feed and commits all of the changes at once.
//
// Failures of individual feeds never fail the cycle; failing to list the feeds or to commit does,
// in which case nothing of the cycle is persisted.
func (f *Fetcher) Cycle(ctx context.Context) (CycleStats, error) {
	feeds, err := f.imports.FeedsForUpdate(ctx)
	if err != nil {
		return CycleStats{}, fmt.Errorf("error listing feeds for update: %w", err)
	}

	updates := make([]lectern.FeedUpdate, len(feeds))
	if f.cfg.Parallel {
		var g errgroup.Group
		if f.cfg.Concurrency > 0 {
			g.SetLimit(f.cfg.Concurrency)
		}
		for i, feed := range feeds {
			g.Go(func() error {
				updates[i] = f.ProcessFeed(ctx, feed)
				return nil
			})
		}
		_ = g.Wait() // ProcessFeed never fails
	} else {
		for i, feed := range feeds {
			updates[i] = f.ProcessFeed(ctx, feed)
		}
	}

	stats := CycleStats{Feeds: len(feeds)}
	changed := make([]lectern.FeedUpdate, 0, len(updates))
	for _, u := range updates {
		if !u.Changed() {
			continue
		}
		changed = append(changed, u)
		stats.ChangedFeeds++
		stats.NewItems += len(u.NewItems)
	}
	if len(changed) == 0 {
		return stats, nil
	}

	if err := f.imports.InTx(ctx, func(ctx context.Context) error {
		for _, u := range changed {
			if err := f.imports.ApplyUpdate(ctx, u); err != nil {
				return fmt.Errorf("error applying update of feed %d: %w", u.Feed.FeedID, err)
			}
		}
		return nil
	}); err != nil {
		return stats, fmt.Errorf("error committing fetch cycle: %w", err)
	}

	return stats, nil
}

// ProcessFeed figures out which items of the feed are new.
//
// Any failure is logged and turned into an unchanged update so the rest of the cycle goes on.
func (f *Fetcher) ProcessFeed(ctx context.Context, feed lectern.Feed) (update lectern.FeedUpdate) {
	ctx = logger.Ctx(ctx,
		slog.Int64("feed_id", feed.FeedID),
		slog.String("feed_url", feed.FeedURL),
	)

	defer func() {
		if r := recover(); r != nil {
			err := lecerrs.E(FingerprintProcessingFailed, fmt.Errorf("panic processing feed: %v", r))
			slog.ErrorContext(ctx, "error processing feed", logger.Err(err))
			update = lectern.Unchanged(feed)
		}
	}()

	update, err := f.processFeed(ctx, feed)
	if err != nil {
		if lecerrs.FingerprintOf(err) == "" {
			err = lecerrs.E(FingerprintProcessingFailed, err)
		}
		slog.ErrorContext(ctx, "error processing feed", logger.Err(err))
		return lectern.Unchanged(feed)
	}

	return update
}

func (f *Fetcher) processFeed(ctx context.Context, feed lectern.Feed) (lectern.FeedUpdate, error) {
	content, err := f.content.FeedContent(ctx, feed)
	if err != nil {
		return lectern.FeedUpdate{}, lecerrs.E(FingerprintHTTPRequestFailed, err)
	}

	// Byte for byte the same as last time, no need to even parse.
	contentHash := hash.Compute(content)
	if contentHash == feed.FeedContentHash {
		slog.DebugContext(ctx, "feed content unchanged")
		return lectern.Unchanged(feed), nil
	}

	if !utf8.Valid(content) {
		slog.DebugContext(ctx, "feed content is not valid utf-8", "content", logger.Lazy(func() any {
			return fmt.Sprintf("%q", content[:min(len(content), 512)])
		}))
		return lectern.FeedUpdate{}, lecerrs.E(FingerprintUTF8DecodeFailed, "feed content is not valid UTF-8")
	}
	text := string(bytes.TrimPrefix(content, utf8BOM))

	parsed, err := f.parser.Parse(ctx, text)
	if err != nil {
		return lectern.FeedUpdate{}, lecerrs.E(FingerprintParseFailed, err)
	}

	// The bytes changed but the set of items didn't, e.g. a new build date.
	if parsed.FeedItemsHash == feed.FeedItemsHash {
		slog.DebugContext(ctx, "feed items unchanged")
		return lectern.Unchanged(feed), nil
	}

	missing, err := f.missingItems(ctx, feed.FeedID, parsed.ItemHashes())
	if err != nil {
		return lectern.FeedUpdate{}, fmt.Errorf("error finding missing feed items: %w", err)
	}
	isMissing := make(map[int64]struct{}, len(missing))
	for _, h := range missing {
		isMissing[h] = struct{}{}
	}

	newItems := make([]lectern.FeedItem, 0, len(missing))
	for _, item := range parsed.Items {
		if _, ok := isMissing[item.FeedItemHash]; !ok {
			continue
		}
		item.FeedID = feed.FeedID
		newItems = append(newItems, item)
	}
	slog.DebugContext(ctx, "feed changed", "items", len(parsed.Items), "new_items", len(newItems))

	return lectern.FeedUpdate{
		Feed:            feed,
		NewItems:        newItems,
		FeedContentHash: contentHash,
		FeedItemsHash:   parsed.FeedItemsHash,
		FeedTitle:       parsed.Title,
	}, nil
}

// Asks storage which of the hashes it doesn't know yet, one feed at a time.
func (f *Fetcher) missingItems(ctx context.Context, feedID int64, hashes []int64) ([]int64, error) {
	if err := f.missingItemsLock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("error acquiring %s lock: %w", missingItemsLockName, err)
	}
	defer f.missingItemsLock.Release(1)

	return f.imports.MissingFeedItems(ctx, feedID, hashes)
}
