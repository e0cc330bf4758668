package api

import (
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klaudstn/postvault/app/database"
	"github.com/klaudstn/postvault/app/media"
	"github.com/klaudstn/postvault/app/search"
	"github.com/klaudstn/postvault/app/sources"
	"github.com/klaudstn/postvault/app/tasks"
)

const purgeTicketTTL = 5 * time.Minute

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func NewHandler(configCache *sources.ConfigCache, sourceRepo *database.SourceRepository,
	itemRepo *database.ItemRepository, statusRepo *database.StatusRepository,
	mediaRepo *database.MediaRepository, collectionRepo *database.CollectionRepository,
	store *media.Store, indexer *search.Indexer, scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		configCache:    configCache,
		sourceRepo:     sourceRepo,
		itemRepo:       itemRepo,
		statusRepo:     statusRepo,
		mediaRepo:      mediaRepo,
		collectionRepo: collectionRepo,
		store:          store,
		indexer:        indexer,
		scheduler:      scheduler,
		purgeTickets:   make(map[string]purgeTicket),
	}
}

func (h *Handler) GetSourceItems(c *gin.Context) {
	name := c.Param("name")

	source, err := h.sourceRepo.GetSourceByName(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if source == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}

	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	items, err := h.itemRepo.GetItems(source.ID, limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_items", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	views := make([]map[string]interface{}, 0, len(items))
	for i := range items {
		views = append(views, h.itemView(&items[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"source": name,
		"items":  views,
		"total":  len(views),
	})
}

func (h *Handler) GetItem(c *gin.Context) {
	id := c.Param("id")

	item, err := h.itemRepo.GetItemByID(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_item", "item_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if item == nil || item.DeletedAt != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}

	c.JSON(http.StatusOK, h.itemView(item))
}

func (h *Handler) GetSourceCollections(c *gin.Context) {
	name := c.Param("name")

	source, err := h.sourceRepo.GetSourceByName(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if source == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}

	collections, err := h.collectionRepo.GetCollections(source.ID)
	if err != nil {
		slog.Error("Database error", "operation", "get_collections", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	views := make([]gin.H, 0, len(collections))
	for _, col := range collections {
		views = append(views, gin.H{
			"id":         col.ID,
			"name":       col.Name,
			"created_at": col.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"source":      name,
		"collections": views,
		"total":       len(views),
	})
}

func (h *Handler) GetCollectionItems(c *gin.Context) {
	id := c.Param("id")

	itemIDs, err := h.collectionRepo.GetCollectionItemIDs(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_collection_items", "collection_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	views := make([]map[string]interface{}, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		item, err := h.itemRepo.GetItemByID(itemID)
		if err != nil || item == nil {
			continue
		}
		views = append(views, h.itemView(item))
	}

	c.JSON(http.StatusOK, gin.H{
		"collection_id": id,
		"items":         views,
		"total":         len(views),
	})
}

// GetMedia serves stored media bytes by content hash.
func (h *Handler) GetMedia(c *gin.Context) {
	hash := c.Param("hash")
	if !hashPattern.MatchString(hash) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid media hash"})
		return
	}

	mediaFile, err := h.mediaRepo.GetMediaByHash(hash)
	if err != nil {
		slog.Error("Database error", "operation", "get_media", "hash", hash, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if mediaFile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Media not found"})
		return
	}

	// Content never changes for a given hash, cache aggressively.
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Header("X-Media-Kind", mediaFile.Kind)
	c.File(h.store.Path(hash))
}

func (h *Handler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing q parameter"})
		return
	}

	limit := 20
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}

	hits, err := h.indexer.Query(query, limit)
	if err != nil {
		slog.Error("Search error", "query", query, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search error"})
		return
	}

	results := make([]gin.H, 0, len(hits))
	for _, hit := range hits {
		result := gin.H{
			"item_id":       hit.ItemID,
			"score":         hit.Score,
			"matched_tiers": hit.Tiers,
		}
		if item, err := h.itemRepo.GetItemByID(hit.ItemID); err == nil && item != nil {
			result["title"] = item.Title
			result["url"] = item.URL
		}
		results = append(results, result)
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": results,
		"total":   len(results),
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if sourceList, err := h.sourceRepo.GetSources(); err == nil {
		health["sources"] = len(sourceList)
	}

	health["loaded_configurations"] = h.configCache.GetConfigCount()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	sourceList, err := h.sourceRepo.GetSources()
	if err != nil {
		slog.Error("Database error", "operation", "get_sources", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	totalItems := 0
	perSource := make([]gin.H, 0, len(sourceList))

	for _, source := range sourceList {
		info := gin.H{
			"name":     source.Name,
			"platform": source.Platform,
			"creator":  source.Creator,
			"active":   source.Active,
		}

		if count, err := h.itemRepo.GetItemCount(source.ID); err == nil {
			info["items"] = count
			totalItems += count
		}

		perSource = append(perSource, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"sources":     perSource,
		"total_items": totalItems,
	})
}

func (h *Handler) APIListSources(c *gin.Context) {
	configs := h.configCache.GetConfigs()

	sourceViews := make([]map[string]interface{}, 0, len(configs))

	for _, sourceConfig := range configs {
		info := map[string]interface{}{
			"name":      sourceConfig.Name,
			"platform":  sourceConfig.Platform,
			"creator":   sourceConfig.Creator,
			"url":       sourceConfig.URL,
			"enabled":   sourceConfig.Settings.Enabled,
			"max_pages": sourceConfig.Settings.MaxPages,
			"grouping":  len(sourceConfig.Grouping),
		}

		if source, err := h.sourceRepo.GetSourceByName(sourceConfig.Name); err == nil && source != nil {
			info["active"] = source.Active
			info["created_at"] = source.CreatedAt
			info["updated_at"] = source.UpdatedAt

			if count, err := h.itemRepo.GetItemCount(source.ID); err == nil {
				info["item_count"] = count
			}
		}

		sourceViews = append(sourceViews, info)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"sources": sourceViews,
		"total":   len(sourceViews),
	})
}

func (h *Handler) APIGetSourceStatus(c *gin.Context) {
	name := c.Param("name")

	source, err := h.sourceRepo.GetSourceByName(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if source == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}

	counts, err := h.statusRepo.GetPhaseCounts(source.ID)
	if err != nil {
		slog.Error("Database error", "operation", "get_phase_counts", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	phases := make(map[string]gin.H, len(counts))
	for phase, pc := range counts {
		phases[string(phase)] = gin.H{
			"pending":   pc.Pending,
			"completed": pc.Completed,
			"failed":    pc.Failed,
		}
	}

	failures := make([]gin.H, 0)
	for _, phase := range []database.Phase{database.PhaseExtraction, database.PhaseGrouping} {
		records, err := h.statusRepo.ListFailed(source.ID, phase, 10)
		if err != nil {
			continue
		}
		for _, record := range records {
			state := record.Phase(phase)
			failures = append(failures, gin.H{
				"item_id":  record.ItemID,
				"phase":    string(phase),
				"attempts": state.Attempts,
				"error":    state.LastError,
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"source":       name,
		"active":       source.Active,
		"phases":       phases,
		"failed_items": failures,
	})
}

func (h *Handler) APIReloadSource(c *gin.Context) {
	name := c.Param("name")

	sourceConfig, err := h.configCache.LoadConfig(name)
	if err != nil {
		slog.Error("Error reloading configuration", "source", name, "error", err)
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Failed to reload configuration",
			"details": err.Error(),
		})
		return
	}

	syncTask := tasks.NewSyncSourceConfigTask(sourceConfig, h.sourceRepo)
	if err := h.scheduler.EnqueueTask(syncTask); err != nil {
		slog.Error("Error enqueueing sync task", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue sync task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Configuration reloaded and sync task enqueued",
		"source": gin.H{
			"name":    name,
			"url":     sourceConfig.URL,
			"enabled": sourceConfig.Settings.Enabled,
		},
		"task": gin.H{
			"id":   syncTask.ID,
			"type": syncTask.Type,
		},
	})
}

// APISetSourceActive toggles scheduling for a source without touching its
// config file. A file reload or sync task reapplies the file's enabled flag.
func (h *Handler) APISetSourceActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")

		source, err := h.sourceRepo.GetSourceByName(name)
		if err != nil {
			slog.Error("Error looking up source", "source", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up source"})
			return
		}
		if source == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}

		if err := h.sourceRepo.SetSourceActive(name, active); err != nil {
			slog.Error("Error updating source", "source", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update source"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"source":  name,
			"active":  active,
		})
	}
}

// APIResetPhase forces one phase of one item back to pending, ignoring
// its current status. Escape hatch for items stuck after repeated
// failures or an operator-corrected upstream.
func (h *Handler) APIResetPhase(c *gin.Context) {
	name := c.Param("name")
	itemID := c.Param("item_id")

	phase := database.Phase(c.Query("phase"))
	if !phase.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or missing phase parameter (discovery, extraction, grouping)"})
		return
	}

	source, err := h.sourceRepo.GetSourceByName(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if source == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}

	record, err := h.statusRepo.GetRecord(source.ID, itemID)
	if err != nil {
		slog.Error("Database error", "operation", "get_record", "item_id", itemID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not tracked for this source"})
		return
	}

	if err := h.statusRepo.ResetPhase(source.ID, itemID, phase); err != nil {
		slog.Error("Failed to reset phase", "source", name, "item_id", itemID, "phase", phase, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset phase"})
		return
	}

	slog.Info("Phase reset", "source", name, "item_id", itemID, "phase", phase)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"source":  name,
		"item_id": itemID,
		"phase":   string(phase),
	})
}

// APIPurgeSource implements the two-step purge: the first call returns
// a dry-run report with a confirmation token, the second call with
// ?confirm=<token> executes it. Tokens expire after purgeTicketTTL.
func (h *Handler) APIPurgeSource(c *gin.Context) {
	name := c.Param("name")
	token := c.Query("confirm")

	source, err := h.sourceRepo.GetSourceByName(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if source == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}

	if token == "" {
		report, err := h.sourceRepo.PurgeDryRun(name)
		if err != nil {
			slog.Error("Purge dry run failed", "source", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Purge dry run failed"})
			return
		}

		ticketToken := uuid.New().String()

		h.purgeMu.Lock()
		h.purgeTickets[ticketToken] = purgeTicket{
			SourceName: name,
			Report:     report,
			IssuedAt:   time.Now(),
		}
		h.purgeMu.Unlock()

		c.JSON(http.StatusOK, gin.H{
			"dry_run":       true,
			"report":        report,
			"confirm_token": ticketToken,
			"expires_in":    purgeTicketTTL.String(),
			"message":       "Repeat the request with ?confirm=<token> to execute",
		})
		return
	}

	h.purgeMu.Lock()
	ticket, ok := h.purgeTickets[token]
	if ok {
		delete(h.purgeTickets, token)
	}
	h.purgeMu.Unlock()

	if !ok || ticket.SourceName != name || time.Since(ticket.IssuedAt) > purgeTicketTTL {
		c.JSON(http.StatusConflict, gin.H{"error": "Invalid or expired confirmation token, request a new dry run"})
		return
	}

	if err := h.sourceRepo.PurgeSource(name); err != nil {
		slog.Error("Purge failed", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Purge failed"})
		return
	}

	slog.Info("Source purged", "source", name,
		"items", ticket.Report.Items, "media_links", ticket.Report.MediaLinks)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"purged":  ticket.Report,
		"message": "Source data removed, run /api/sweep to reclaim unreferenced media files",
	})
}

func (h *Handler) APISweepMedia(c *gin.Context) {
	sweepTask := tasks.NewSweepMediaTask(h.store)
	if err := h.scheduler.EnqueueTask(sweepTask); err != nil {
		slog.Error("Error enqueueing sweep task", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue sweep task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task": gin.H{
			"id":   sweepTask.ID,
			"type": sweepTask.Type,
		},
	})
}

func (h *Handler) APIDeleteItem(c *gin.Context) {
	id := c.Param("id")

	item, err := h.itemRepo.GetItemByID(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_item", "item_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if item == nil || item.DeletedAt != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}

	if err := h.itemRepo.SoftDeleteItem(id); err != nil {
		slog.Error("Failed to delete item", "item_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete item"})
		return
	}

	// Release the item's media references; the bytes stay until a sweep.
	if err := h.mediaRepo.UnlinkItemMedia(id); err != nil {
		slog.Error("Failed to unlink item media", "item_id", id, "error", err)
	}

	if err := h.indexer.Remove(id); err != nil {
		slog.Error("Failed to remove item from search index", "item_id", id, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"item_id": id,
	})
}

// itemView serializes an item for API responses, rewriting media block
// references into servable /media/<hash> paths.
func (h *Handler) itemView(item *database.Item) map[string]interface{} {
	blocks := make([]gin.H, 0, len(item.Blocks))
	for _, block := range item.Blocks {
		view := gin.H{
			"type":  string(block.Type),
			"order": block.Order,
		}
		if block.Text != "" {
			view["text"] = block.Text
		}
		if block.MediaRef != "" {
			view["media_url"] = "/media/" + block.MediaRef
		}
		blocks = append(blocks, view)
	}

	view := map[string]interface{}{
		"id":          item.ID,
		"remote_id":   item.RemoteID,
		"title":       item.Title,
		"url":         item.URL,
		"tags":        item.Tags,
		"blocks":      blocks,
		"media_count": item.MediaCount,
		"created_at":  item.CreatedAt,
		"updated_at":  item.UpdatedAt,
	}
	if item.PublishedAt != nil {
		view["published_at"] = item.PublishedAt
	}

	return view
}
