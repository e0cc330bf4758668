package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klaudstn/postvault/app/content"
	"github.com/klaudstn/postvault/app/database"
	"github.com/klaudstn/postvault/app/fetch"
	"github.com/klaudstn/postvault/app/media"
	"github.com/klaudstn/postvault/app/metrics"
	"github.com/klaudstn/postvault/app/search"
	"github.com/klaudstn/postvault/app/sources"
)

// Extractor runs the extraction phase for one item: fetch the captured
// page, normalize it into blocks, persist referenced media through the
// content-addressed store, swap in the new block sequence, and reindex.
// Every outcome lands on the item's status row; the extractor never
// deletes anything.
type Extractor struct {
	fetcher    fetch.PageFetcher
	downloader fetch.Downloader
	normalizer *content.Normalizer
	store      *media.Store
	itemRepo   *database.ItemRepository
	mediaRepo  *database.MediaRepository
	statusRepo *database.StatusRepository
	indexer    *search.Indexer
	failDir    string
}

func NewExtractor(fetcher fetch.PageFetcher, downloader fetch.Downloader,
	store *media.Store, itemRepo *database.ItemRepository, mediaRepo *database.MediaRepository,
	statusRepo *database.StatusRepository, indexer *search.Indexer, dataDir string) *Extractor {
	return &Extractor{
		fetcher:    fetcher,
		downloader: downloader,
		normalizer: content.NewNormalizer(),
		store:      store,
		itemRepo:   itemRepo,
		mediaRepo:  mediaRepo,
		statusRepo: statusRepo,
		indexer:    indexer,
		failDir:    filepath.Join(dataDir, "failed"),
	}
}

// Run processes one tracked item through extraction and records the
// phase outcome. The returned error is the processing failure, already
// recorded on the status row; callers use it for logging only.
func (e *Extractor) Run(ctx context.Context, config *sources.Config, sourceID string, record database.StatusRecord) error {
	if err := e.extract(ctx, config, sourceID, record); err != nil {
		if markErr := e.statusRepo.MarkPhase(sourceID, record.ItemID, database.PhaseExtraction, database.StatusFailed, err.Error()); markErr != nil {
			if !errors.Is(markErr, database.ErrStaleTransition) {
				slog.Error("Failed to record extraction failure", "item_id", record.ItemID, "error", markErr)
			}
		}
		return err
	}

	if err := e.statusRepo.MarkPhase(sourceID, record.ItemID, database.PhaseExtraction, database.StatusCompleted, ""); err != nil {
		if errors.Is(err, database.ErrStaleTransition) {
			// Another worker finished this item first; its result stands.
			slog.Debug("Extraction already completed elsewhere", "item_id", record.ItemID)
			return nil
		}
		return err
	}

	return nil
}

func (e *Extractor) extract(ctx context.Context, config *sources.Config, sourceID string, record database.StatusRecord) error {
	item, err := e.itemRepo.GetItemByRemoteID(sourceID, record.ItemID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("tracked item '%s' has no item row", record.ItemID)
	}

	page, err := e.fetcher.FetchPage(ctx, config, record.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch item page: %w", err)
	}

	blocks, descriptors, err := e.normalizer.Run(page.Elements)
	if err != nil {
		var malformed *content.MalformedContentError
		if errors.As(err, &malformed) {
			e.preservePayload(config.Name, record.ItemID, page.Elements)
		}
		return err
	}

	for _, descriptor := range descriptors {
		hash, err := e.ingestMedia(ctx, descriptor)
		if err != nil {
			return fmt.Errorf("failed to ingest media %s: %w", descriptor.RemoteURL, err)
		}
		blocks[descriptor.BlockIndex].MediaRef = hash
	}

	previous, err := e.mediaRepo.GetItemMedia(item.ID)
	if err != nil {
		return err
	}

	type linkKey struct {
		hash     string
		position int
	}
	kept := make(map[linkKey]struct{}, len(descriptors))
	for i, descriptor := range descriptors {
		hash := blocks[descriptor.BlockIndex].MediaRef
		if err := e.store.Link(hash, item.ID, i, descriptor.Role); err != nil {
			return err
		}
		kept[linkKey{hash, i}] = struct{}{}
	}

	if err := e.itemRepo.ReplaceContent(item.ID, page.Title, page.Tags, blocks, len(descriptors)); err != nil {
		return err
	}

	// Links from a previous extraction are dropped only after the new
	// block sequence is in place: a file the old blocks still reference
	// must never sit at a zero count while a reader can resolve it. Put
	// and link are idempotent, so a crash anywhere in here heals on
	// retry.
	for _, link := range previous {
		if _, ok := kept[linkKey{link.MediaHash, link.Position}]; ok {
			continue
		}
		if err := e.mediaRepo.UnlinkMediaAt(item.ID, link.MediaHash, link.Position); err != nil {
			return err
		}
	}

	// Reindex synchronously with the content swap so search matches the
	// new text immediately.
	updated, err := e.itemRepo.GetItemByID(item.ID)
	if err != nil {
		return err
	}
	if err := e.indexer.Reindex(updated); err != nil {
		return err
	}

	slog.Debug("Item extracted", "source", config.Name, "item_id", record.ItemID,
		"blocks", len(blocks), "media", len(descriptors))

	return nil
}

func (e *Extractor) ingestMedia(ctx context.Context, descriptor content.MediaDescriptor) (string, error) {
	data, err := e.downloader.Download(ctx, descriptor.RemoteURL)
	if err != nil {
		return "", err
	}

	hash, isNew, err := e.store.Put(data, descriptor.Kind)
	if err != nil {
		return "", err
	}

	if !isNew {
		metrics.MediaDeduplicated.Inc()
		slog.Debug("Media deduplicated", "hash", hash, "url", descriptor.RemoteURL)
	}

	return hash, nil
}

// preservePayload writes the raw element stream of a malformed item to
// disk for offline inspection. Best effort: inspection data must never
// mask the original failure.
func (e *Extractor) preservePayload(sourceName, itemID string, elements []content.RawElement) {
	dir := filepath.Join(e.failDir, sourceName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("Failed to create payload preservation directory", "error", err)
		return
	}

	data, err := json.MarshalIndent(elements, "", "  ")
	if err != nil {
		slog.Warn("Failed to marshal raw payload", "item_id", itemID, "error", err)
		return
	}

	path := filepath.Join(dir, itemID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Warn("Failed to preserve raw payload", "item_id", itemID, "path", path, "error", err)
		return
	}

	slog.Info("Raw payload preserved for inspection", "item_id", itemID, "path", path)
}
