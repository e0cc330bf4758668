package search

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/klaudstn/postvault/app/content"
	"github.com/klaudstn/postvault/app/database"
)

// Weight tiers, highest first. Weighting is ordinal: the ranking query
// maps tiers to scores, callers never set numbers directly.
const (
	TierTitle    = 1
	TierBody     = 2
	TierTags     = 3
	TierComments = 4
)

// Indexer derives the weighted search representation of an item from
// its current title, block sequence, tags, and comments. It is invoked
// synchronously with every content mutation so search results are
// correct immediately after ingestion.
type Indexer struct {
	searchRepo *database.SearchRepository
}

func NewIndexer(searchRepo *database.SearchRepository) *Indexer {
	return &Indexer{searchRepo: searchRepo}
}

// Reindex rebuilds the item's search entry and token postings from its
// current state. Body text is always re-derived from the block
// sequence, never read from a stale stored field.
func (ix *Indexer) Reindex(item *database.Item) error {
	entry := database.SearchEntry{
		ItemID:      item.ID,
		TitleText:   item.Title,
		BodyText:    BodyText(item.Blocks),
		TagText:     strings.Join(item.Tags, " "),
		CommentText: CommentText(item.Blocks),
	}

	var tokens []database.SearchToken
	for tier, text := range map[int]string{
		TierTitle:    entry.TitleText,
		TierBody:     entry.BodyText,
		TierTags:     entry.TagText,
		TierComments: entry.CommentText,
	} {
		for token, count := range TokenCounts(text) {
			tokens = append(tokens, database.SearchToken{Token: token, Tier: tier, Count: count})
		}
	}

	if err := ix.searchRepo.ReplaceEntry(entry, tokens); err != nil {
		return fmt.Errorf("failed to reindex item %s: %w", item.ID, err)
	}

	slog.Debug("Item reindexed", "item_id", item.ID, "tokens", len(tokens))
	return nil
}

// Remove drops an item from the index (soft deletion, purge).
func (ix *Indexer) Remove(itemID string) error {
	return ix.searchRepo.DeleteEntry(itemID)
}

// Query tokenizes the query string and returns ranked item IDs with
// the weight tiers each hit matched in.
func (ix *Indexer) Query(query string, limit int) ([]database.SearchHit, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	return ix.searchRepo.QueryTokens(tokens, limit)
}

// BodyText concatenates, in block order, the text of every body-tier
// block, joined by single spaces.
func BodyText(blocks []content.Block) string {
	var parts []string
	for _, block := range blocks {
		if block.IsBody() && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, " ")
}

// CommentText concatenates comment block text in block order.
func CommentText(blocks []content.Block) string {
	var parts []string
	for _, block := range blocks {
		if block.Type == content.BlockComment && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, " ")
}
