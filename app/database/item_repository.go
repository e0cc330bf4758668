package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klaudstn/postvault/app/content"
)

// ItemRepository handles database operations for ingested items
type ItemRepository struct {
	db *DB
}

func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, source_id, remote_id, title, url, published_at,
	tags, blocks, media_count, deleted_at, created_at, updated_at`

func (r *ItemRepository) GetItemByID(id string) (*Item, error) {
	row := r.db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	return r.scanItem(row)
}

func (r *ItemRepository) GetItemByRemoteID(sourceID, remoteID string) (*Item, error) {
	row := r.db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE source_id = ? AND remote_id = ?`,
		sourceID, remoteID)
	return r.scanItem(row)
}

// GetItems returns non-deleted items for a source, newest first.
func (r *ItemRepository) GetItems(sourceID string, limit int) ([]Item, error) {
	rows, err := r.db.Query(`
		SELECT `+itemColumns+`
		FROM items
		WHERE source_id = ?
		  AND deleted_at IS NULL
		ORDER BY COALESCE(published_at, created_at) DESC
		LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	defer rows.Close()

	return r.collectItems(rows)
}

// ReplaceContent swaps an item's entire block sequence in one UPDATE,
// so readers never observe a mixed old/new sequence. Title and tags are
// refreshed alongside; empty values never clobber existing ones.
func (r *ItemRepository) ReplaceContent(itemID, title string, tags []string, blocks []content.Block, mediaCount int) error {
	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("failed to marshal blocks: %w", err)
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	result, err := r.db.Exec(`
		UPDATE items
		SET blocks = ?,
		    media_count = ?,
		    title = CASE WHEN ? != '' THEN ? ELSE title END,
		    tags = CASE WHEN ? != '[]' THEN ? ELSE tags END,
		    updated_at = ?
		WHERE id = ?
	`, string(blocksJSON), mediaCount, title, title, string(tagsJSON), string(tagsJSON),
		time.Now().UTC(), itemID)
	if err != nil {
		return fmt.Errorf("failed to replace item content: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item '%s' not found", itemID)
	}

	return nil
}

// SoftDeleteItem marks an item deleted without removing the row, so
// collections and the status tracker keep their references.
func (r *ItemRepository) SoftDeleteItem(itemID string) error {
	_, err := r.db.Exec(`
		UPDATE items SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
	`, time.Now().UTC(), time.Now().UTC(), itemID)
	if err != nil {
		return fmt.Errorf("failed to soft delete item: %w", err)
	}
	return nil
}

func (r *ItemRepository) GetItemCount(sourceID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM items WHERE source_id = ? AND deleted_at IS NULL`,
		sourceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *ItemRepository) scanItem(row rowScanner) (*Item, error) {
	var item Item
	var tagsJSON, blocksJSON string

	err := row.Scan(
		&item.ID, &item.SourceID, &item.RemoteID, &item.Title, &item.URL,
		&item.PublishedAt, &tagsJSON, &blocksJSON, &item.MediaCount,
		&item.DeletedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item row: %w", err)
	}

	if err := json.Unmarshal([]byte(tagsJSON), &item.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item tags: %w", err)
	}
	if err := json.Unmarshal([]byte(blocksJSON), &item.Blocks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item blocks: %w", err)
	}

	return &item, nil
}

func (r *ItemRepository) collectItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		item, err := r.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}
