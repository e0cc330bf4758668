package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klaudstn/postvault/app/fetch"
	"github.com/klaudstn/postvault/app/sources"
)

// Registry is the tracker surface discovery writes through: the
// persisted known set, read fresh per run, and one-transaction-per-item
// registration.
type Registry interface {
	GetKnownIDs(sourceID string) (map[string]struct{}, error)
	RegisterDiscovered(sourceID, remoteID, url, title string, publishedAt *time.Time) (bool, error)
}

// Discoverer finds items not yet tracked for a source without
// re-scanning the full remote history. Listings are newest first, so a
// run of consecutive already-known items implies everything older is
// known too; the scan stops once the run reaches the threshold. A new
// item interleaved between known ones resets the run, trading speed for
// correctness on backfilled posts.
type Discoverer struct {
	registry        Registry
	lister          fetch.Lister
	streakThreshold int
}

func NewDiscoverer(registry Registry, lister fetch.Lister, streakThreshold int) *Discoverer {
	if streakThreshold <= 0 {
		streakThreshold = 3
	}
	return &Discoverer{
		registry:        registry,
		lister:          lister,
		streakThreshold: streakThreshold,
	}
}

// Run scans one source's listing and registers every new item. Returns
// the number of newly registered items. A listing fetch failure aborts
// this source's run only; a single item's registration failure is
// logged and does not abort its siblings.
func (d *Discoverer) Run(ctx context.Context, config *sources.Config, sourceID string) (int, error) {
	known, err := d.registry.GetKnownIDs(sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to load known item set: %w", err)
	}

	newCount := 0
	streak := 0

	for page := 1; page <= config.Settings.MaxPages; page++ {
		select {
		case <-ctx.Done():
			return newCount, ctx.Err()
		default:
		}

		entries, hasMore, err := d.lister.ListPage(ctx, config, page)
		if err != nil {
			return newCount, fmt.Errorf("failed to list page %d: %w", page, err)
		}

		for _, entry := range entries {
			if entry.RemoteID == "" {
				slog.Warn("Listing entry without remote ID skipped", "source", config.Name, "url", entry.URL)
				continue
			}

			if _, ok := known[entry.RemoteID]; ok {
				streak++
				if streak >= d.streakThreshold {
					slog.Debug("Known-item streak reached, stopping scan",
						"source", config.Name, "page", page, "streak", streak, "new", newCount)
					return newCount, nil
				}
				continue
			}

			streak = 0

			registered, err := d.registry.RegisterDiscovered(sourceID, entry.RemoteID, entry.URL, entry.Title, entry.PublishedAt)
			if err != nil {
				slog.Error("Failed to register discovered item",
					"source", config.Name, "item_id", entry.RemoteID, "error", err)
				continue
			}
			if registered {
				newCount++
			}
			known[entry.RemoteID] = struct{}{}
		}

		if !hasMore {
			break
		}
	}

	return newCount, nil
}
