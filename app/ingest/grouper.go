package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/klaudstn/postvault/app/database"
	"github.com/klaudstn/postvault/app/sources"
)

// Grouper runs the grouping phase for one item: apply the source's
// tag-to-collection rules and record membership with a position that
// follows published order.
type Grouper struct {
	itemRepo       *database.ItemRepository
	collectionRepo *database.CollectionRepository
	statusRepo     *database.StatusRepository
}

func NewGrouper(itemRepo *database.ItemRepository, collectionRepo *database.CollectionRepository,
	statusRepo *database.StatusRepository) *Grouper {
	return &Grouper{
		itemRepo:       itemRepo,
		collectionRepo: collectionRepo,
		statusRepo:     statusRepo,
	}
}

func (g *Grouper) Run(config *sources.Config, sourceID string, record database.StatusRecord) error {
	if err := g.group(config, sourceID, record); err != nil {
		if markErr := g.statusRepo.MarkPhase(sourceID, record.ItemID, database.PhaseGrouping, database.StatusFailed, err.Error()); markErr != nil {
			if !errors.Is(markErr, database.ErrStaleTransition) {
				slog.Error("Failed to record grouping failure", "item_id", record.ItemID, "error", markErr)
			}
		}
		return err
	}

	if err := g.statusRepo.MarkPhase(sourceID, record.ItemID, database.PhaseGrouping, database.StatusCompleted, ""); err != nil {
		if errors.Is(err, database.ErrStaleTransition) {
			return nil
		}
		return err
	}

	return nil
}

func (g *Grouper) group(config *sources.Config, sourceID string, record database.StatusRecord) error {
	item, err := g.itemRepo.GetItemByRemoteID(sourceID, record.ItemID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("tracked item '%s' has no item row", record.ItemID)
	}

	for _, rule := range config.Grouping {
		if !slices.Contains(item.Tags, rule.Tag) {
			continue
		}

		collectionID, err := g.collectionRepo.EnsureCollection(sourceID, rule.Collection)
		if err != nil {
			return err
		}

		// Published timestamp as position keeps members in
		// chronological order without renumbering siblings.
		position := item.CreatedAt.Unix()
		if item.PublishedAt != nil {
			position = item.PublishedAt.Unix()
		}

		if err := g.collectionRepo.UpsertCollectionItem(collectionID, item.ID, int(position)); err != nil {
			return err
		}

		slog.Debug("Item grouped", "item_id", record.ItemID, "collection", rule.Collection)
	}

	return nil
}
