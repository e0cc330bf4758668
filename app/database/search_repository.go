package database

import (
	"fmt"
	"strings"
	"time"
)

// SearchEntry is the denormalized per-item search document: the field
// texts from which the token index was derived. Strictly a materialized
// view; it is replaced wholesale on every reindex, never edited.
type SearchEntry struct {
	ItemID      string
	TitleText   string
	BodyText    string
	TagText     string
	CommentText string
	UpdatedAt   time.Time
}

// SearchToken is one (token, tier) posting for an item. Tier 1 is the
// title, 2 body, 3 tags, 4 comments/transcripts.
type SearchToken struct {
	Token string
	Tier  int
	Count int
}

// SearchHit is one ranked query result; Tiers flags which weight tiers
// matched the query.
type SearchHit struct {
	ItemID string
	Score  int
	Tiers  []int
}

// SearchRepository persists the derived search index.
type SearchRepository struct {
	db *DB
}

func NewSearchRepository(db *DB) *SearchRepository {
	return &SearchRepository{db: db}
}

// ReplaceEntry swaps an item's search entry and all its token postings
// in one transaction, so a query never sees a half-reindexed item.
func (r *SearchRepository) ReplaceEntry(entry SearchEntry, tokens []SearchToken) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin reindex transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM search_tokens WHERE item_id = ?`, entry.ItemID)
	if err != nil {
		return fmt.Errorf("failed to clear token postings: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO search_entries (item_id, title_text, body_text, tag_text, comment_text, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET
			title_text = excluded.title_text,
			body_text = excluded.body_text,
			tag_text = excluded.tag_text,
			comment_text = excluded.comment_text,
			updated_at = excluded.updated_at
	`, entry.ItemID, entry.TitleText, entry.BodyText, entry.TagText, entry.CommentText, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert search entry: %w", err)
	}

	for _, token := range tokens {
		_, err = tx.Exec(`
			INSERT INTO search_tokens (token, item_id, tier, cnt)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (token, item_id, tier) DO UPDATE SET cnt = excluded.cnt
		`, token.Token, entry.ItemID, token.Tier, token.Count)
		if err != nil {
			return fmt.Errorf("failed to insert token posting: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reindex transaction: %w", err)
	}

	return nil
}

// DeleteEntry removes an item from the index entirely (soft deletion,
// purge).
func (r *SearchRepository) DeleteEntry(itemID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM search_tokens WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("failed to delete token postings: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM search_entries WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("failed to delete search entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete transaction: %w", err)
	}

	return nil
}

// QueryTokens ranks items matching any of the given tokens. The score
// is the tier-weighted sum of matched posting counts; soft-deleted
// items never match.
func (r *SearchRepository) QueryTokens(tokens []string, limit int) ([]SearchHit, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")
	args := make([]interface{}, 0, len(tokens)+1)
	for _, t := range tokens {
		args = append(args, t)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT st.item_id,
		       SUM(st.cnt * (CASE st.tier WHEN 1 THEN 8 WHEN 2 THEN 4 WHEN 3 THEN 2 ELSE 1 END)) AS score,
		       GROUP_CONCAT(DISTINCT st.tier) AS tiers
		FROM search_tokens st
		JOIN items i ON i.id = st.item_id
		WHERE st.token IN (%s)
		  AND i.deleted_at IS NULL
		GROUP BY st.item_id
		ORDER BY score DESC
		LIMIT ?
	`, placeholders)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query search tokens: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		var tiers string
		if err := rows.Scan(&hit.ItemID, &hit.Score, &tiers); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hit.Tiers = parseTiers(tiers)
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search hits: %w", err)
	}

	return hits, nil
}

func parseTiers(s string) []int {
	var tiers []int
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "1":
			tiers = append(tiers, 1)
		case "2":
			tiers = append(tiers, 2)
		case "3":
			tiers = append(tiers, 3)
		case "4":
			tiers = append(tiers, 4)
		}
	}
	return tiers
}
