// Package sync turns a feed's url into a set of items: fetching the raw bytes over HTTP and
// parsing them into hashed, deduplicated items.
package sync

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/sym01/htmlsanitizer"

	"github.com/jdholdren/lectern/internal/hash"
	"github.com/jdholdren/lectern/internal/lectern"
)

// ParsedFeed is the normalized result of parsing one feed payload.
type ParsedFeed struct {
	Title string
	// Items in processed order (oldest first), unique by hash.
	Items []lectern.FeedItem
	// Hashes of every item in Items.
	Hashes map[int64]struct{}
	// FeedItemsHash fingerprints the whole set of items present in the payload.
	FeedItemsHash int64
}

// ItemHashes returns the item hashes in processed order.
func (p ParsedFeed) ItemHashes() []int64 {
	hashes := make([]int64, 0, len(p.Items))
	for _, item := range p.Items {
		hashes = append(hashes, item.FeedItemHash)
	}
	return hashes
}

// Parser converts feed text into a [ParsedFeed].
type Parser struct {
	now func() time.Time
}

// NewParser creates a Parser stamping items with the current time.
func NewParser() Parser {
	return Parser{now: time.Now}
}

// Parse reads RSS, Atom or JSON feed text.
//
// Items are visited oldest first (feeds list newest first) so that when an identity shows up
// more than once, the oldest occurrence is the one kept.
func (p Parser) Parse(ctx context.Context, text string) (ParsedFeed, error) {
	// The gofeed parsers keep state while parsing, so one per call.
	feed, err := gofeed.NewParser().ParseString(text)
	if err != nil {
		return ParsedFeed{}, fmt.Errorf("error parsing feed: %w", err)
	}

	var (
		addedAt    = p.now().UTC()
		identities bytes.Buffer
		parsed     = ParsedFeed{
			Title:  sanitizeTitle(feed.Title),
			Items:  make([]lectern.FeedItem, 0, len(feed.Items)),
			Hashes: make(map[int64]struct{}, len(feed.Items)),
		}
	)
	for _, item := range slices.Backward(feed.Items) {
		if item == nil {
			continue
		}

		identity, ok := itemIdentity(item)
		if !ok {
			slog.DebugContext(ctx, "skipping unidentifiable feed item", "title", item.Title, "link", item.Link)
			continue
		}

		itemHash := hash.String(identity)
		if _, seen := parsed.Hashes[itemHash]; seen {
			continue
		}
		parsed.Hashes[itemHash] = struct{}{}
		identities.WriteString(identity)

		description := item.Description
		if strings.TrimSpace(description) == "" {
			description = item.Content
		}
		parsed.Items = append(parsed.Items, lectern.FeedItem{
			FeedItemHash:        itemHash,
			FeedItemURL:         itemURL(item),
			FeedItemTitle:       sanitizeTitle(item.Title),
			FeedItemDescription: sanitizeDescription(ctx, description),
			FeedItemAddedTime:   addedAt,
		})
	}
	parsed.FeedItemsHash = hash.Compute(identities.Bytes())

	return parsed, nil
}

// Builds the string an item is identified by, in order of preference: its id, its link and
// finally its title. Items with none of them can't be tracked.
func itemIdentity(item *gofeed.Item) (string, bool) {
	if id := strings.TrimSpace(item.GUID); id != "" {
		return "ID(" + id + ")", true
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return "LINK(" + link + ")", true
	}
	if title := strings.TrimSpace(item.Title); title != "" {
		return "TITLE(" + title + ")", true
	}

	return "", false
}

// The url shown for an item: the link when it's an absolute http(s) url, the id when that is one.
func itemURL(item *gofeed.Item) *string {
	for _, candidate := range []string{item.Link, item.GUID} {
		candidate = strings.TrimSpace(candidate)
		if isAbsoluteHTTP(candidate) {
			return &candidate
		}
	}

	return nil
}

func isAbsoluteHTTP(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

const maxDescriptionLength = 2048

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from a title, leaving plain text.
func sanitizeTitle(s string) string {
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(s)))
}

// Keeps the safe subset of html in a description.
//
// Also limits the length of the string so there's not a massive chunk of text being stored.
func sanitizeDescription(ctx context.Context, s string) string {
	s = strings.TrimSpace(s)
	clean, err := htmlsanitizer.NewHTMLSanitizer().SanitizeString(s)
	if err != nil {
		slog.DebugContext(ctx, "falling back to stripping description", "error", err)
		clean = stripPolicy.Sanitize(s)
	}

	return truncate(clean, maxDescriptionLength)
}

// Cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	runes := 0
	for i := range s {
		if runes == n {
			return s[:i]
		}
		runes++
	}
	return s
}
