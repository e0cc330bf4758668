package database

import (
	"slices"
	"testing"
)

func TestQueryTokensWeighting(t *testing.T) {
	db := newTestDB(t)
	sourceID := newTestSource(t, db, "search-source")
	repo := NewSearchRepository(db)
	itemRepo := NewItemRepository(db)

	titleMatch := newTestItem(t, db, sourceID, "title-match")
	bodyMatch := newTestItem(t, db, sourceID, "body-match")

	err := repo.ReplaceEntry(SearchEntry{ItemID: titleMatch, TitleText: "sunset painting"},
		[]SearchToken{{Token: "sunset", Tier: 1, Count: 1}})
	if err != nil {
		t.Fatalf("ReplaceEntry failed: %v", err)
	}
	err = repo.ReplaceEntry(SearchEntry{ItemID: bodyMatch, BodyText: "a sunset over the bay"},
		[]SearchToken{{Token: "sunset", Tier: 2, Count: 1}})
	if err != nil {
		t.Fatalf("ReplaceEntry failed: %v", err)
	}

	hits, err := repo.QueryTokens([]string{"sunset"}, 10)
	if err != nil {
		t.Fatalf("QueryTokens failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Expected 2 hits, got %d", len(hits))
	}

	// A title match outweighs a body match.
	if hits[0].ItemID != titleMatch {
		t.Errorf("Expected title match ranked first, got %s", hits[0].ItemID)
	}
	if hits[0].Score != 8 || hits[1].Score != 4 {
		t.Errorf("Unexpected scores: %d, %d", hits[0].Score, hits[1].Score)
	}
	if !slices.Contains(hits[0].Tiers, 1) {
		t.Errorf("Expected tier 1 flagged for title match, got %v", hits[0].Tiers)
	}

	// Soft-deleted items vanish from results without touching the index.
	if err := itemRepo.SoftDeleteItem(titleMatch); err != nil {
		t.Fatalf("SoftDeleteItem failed: %v", err)
	}
	hits, err = repo.QueryTokens([]string{"sunset"}, 10)
	if err != nil {
		t.Fatalf("QueryTokens failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ItemID != bodyMatch {
		t.Errorf("Expected only the live item to match, got %+v", hits)
	}
}

func TestReplaceEntryDropsStaleTokens(t *testing.T) {
	db := newTestDB(t)
	sourceID := newTestSource(t, db, "reindex-source")
	repo := NewSearchRepository(db)

	itemID := newTestItem(t, db, sourceID, "post-1")

	err := repo.ReplaceEntry(SearchEntry{ItemID: itemID, TitleText: "old draft"},
		[]SearchToken{{Token: "draft", Tier: 1, Count: 1}})
	if err != nil {
		t.Fatalf("ReplaceEntry failed: %v", err)
	}

	err = repo.ReplaceEntry(SearchEntry{ItemID: itemID, TitleText: "final piece"},
		[]SearchToken{{Token: "final", Tier: 1, Count: 1}, {Token: "piece", Tier: 1, Count: 1}})
	if err != nil {
		t.Fatalf("Second ReplaceEntry failed: %v", err)
	}

	hits, err := repo.QueryTokens([]string{"draft"}, 10)
	if err != nil {
		t.Fatalf("QueryTokens failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Expected stale token to be gone, got %+v", hits)
	}

	hits, err = repo.QueryTokens([]string{"final"}, 10)
	if err != nil {
		t.Fatalf("QueryTokens failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("Expected new token to match, got %d hits", len(hits))
	}

	if err := repo.DeleteEntry(itemID); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	hits, _ = repo.QueryTokens([]string{"final"}, 10)
	if len(hits) != 0 {
		t.Errorf("Expected no hits after entry deletion, got %+v", hits)
	}
}
