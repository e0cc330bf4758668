package fetch

import (
	"cmp"
	"context"
	"fmt"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"

	"github.com/klaudstn/postvault/app/sources"
)

// FeedLister lists items for platforms that expose an RSS/Atom feed of
// a creator's posts. Feeds surface a single newest-first window, so
// there is only ever one page.
type FeedLister struct {
	parser *gofeed.Parser
}

func NewFeedLister(userAgent string) *FeedLister {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	return &FeedLister{parser: parser}
}

func (l *FeedLister) ListPage(ctx context.Context, config *sources.Config, page int) ([]ListingEntry, bool, error) {
	if config.FeedURL == "" {
		return nil, false, fmt.Errorf("source '%s' has no feed URL configured", config.Name)
	}
	if page > 1 {
		return nil, false, nil
	}

	feed, err := l.parser.ParseURLWithContext(config.FeedURL, ctx)
	if err != nil {
		return nil, false, &FetchError{URL: config.FeedURL, Transient: true, Err: err}
	}

	entries := make([]ListingEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entry := ListingEntry{
			RemoteID: cmp.Or(item.GUID, item.Link),
			Title:    item.Title,
			URL:      item.Link,
		}

		if item.PublishedParsed != nil {
			entry.PublishedAt = item.PublishedParsed
		} else if item.Published != "" {
			// Feeds in the wild carry all manner of date formats.
			if parsed, err := dateparse.ParseAny(item.Published); err == nil {
				entry.PublishedAt = &parsed
			}
		}

		entries = append(entries, entry)
	}

	return entries, false, nil
}
