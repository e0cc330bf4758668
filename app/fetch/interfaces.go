package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/klaudstn/postvault/app/content"
	"github.com/klaudstn/postvault/app/sources"
)

// ListingEntry is one item stub from a source's listing, newest first.
type ListingEntry struct {
	RemoteID    string
	Title       string
	URL         string
	PublishedAt *time.Time
}

// Lister fetches one page of a source's item listing. Page 1 is the
// newest; hasMore reports whether older pages exist. Implementations
// are platform collaborators; the discovery engine only consumes the
// entry stream.
type Lister interface {
	ListPage(ctx context.Context, config *sources.Config, page int) (entries []ListingEntry, hasMore bool, err error)
}

// PageDetail is the full captured content of one item page: the
// ordered element stream plus the page-level metadata that does not
// belong to any single element.
type PageDetail struct {
	Title    string
	Tags     []string
	Elements []content.RawElement
}

// PageFetcher returns the captured detail of one item. How the page is
// obtained (HTTP, browser automation, capture replay) is the
// collaborator's concern.
type PageFetcher interface {
	FetchPage(ctx context.Context, config *sources.Config, itemURL string) (*PageDetail, error)
}

// Downloader fetches the raw bytes behind a media URL for the store.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// FetchError wraps a collaborator failure. Transient failures (network,
// timeout, rate limiting, server errors) are recorded on the item's
// status row and retried on the next scheduled run; permanent ones are
// not worth retrying unchanged.
type FetchError struct {
	URL       string
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s fetch error for %s: %v", kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
