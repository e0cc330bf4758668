package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CollectionRepository handles named item groupings per source.
type CollectionRepository struct {
	db *DB
}

func NewCollectionRepository(db *DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// EnsureCollection returns the ID of the named collection, creating it
// if needed.
func (r *CollectionRepository) EnsureCollection(sourceID, name string) (string, error) {
	var id string
	err := r.db.QueryRow(`SELECT id FROM collections WHERE source_id = ? AND name = ?`,
		sourceID, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to look up collection: %w", err)
	}

	id = uuid.NewString()
	_, err = r.db.Exec(`
		INSERT INTO collections (id, source_id, name)
		VALUES (?, ?, ?)
		ON CONFLICT (source_id, name) DO NOTHING
	`, id, sourceID, name)
	if err != nil {
		return "", fmt.Errorf("failed to create collection: %w", err)
	}

	// Another worker may have won the insert; read back the winner.
	err = r.db.QueryRow(`SELECT id FROM collections WHERE source_id = ? AND name = ?`,
		sourceID, name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to read back collection: %w", err)
	}

	return id, nil
}

// UpsertCollectionItem adds an item to a collection at the given
// position, or moves it there if already a member.
func (r *CollectionRepository) UpsertCollectionItem(collectionID, itemID string, position int) error {
	_, err := r.db.Exec(`
		INSERT INTO collection_items (collection_id, item_id, position)
		VALUES (?, ?, ?)
		ON CONFLICT (collection_id, item_id) DO UPDATE SET position = excluded.position
	`, collectionID, itemID, position)
	if err != nil {
		return fmt.Errorf("failed to upsert collection item: %w", err)
	}
	return nil
}

func (r *CollectionRepository) GetCollections(sourceID string) ([]Collection, error) {
	rows, err := r.db.Query(`
		SELECT id, source_id, name, created_at
		FROM collections
		WHERE source_id = ?
		ORDER BY name
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get collections: %w", err)
	}
	defer rows.Close()

	var collections []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection row: %w", err)
		}
		collections = append(collections, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collection rows: %w", err)
	}

	return collections, nil
}

// GetCollectionItemIDs returns member item IDs in declared order,
// excluding soft-deleted items.
func (r *CollectionRepository) GetCollectionItemIDs(collectionID string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT ci.item_id
		FROM collection_items ci
		JOIN items i ON i.id = ci.item_id
		WHERE ci.collection_id = ?
		  AND i.deleted_at IS NULL
		ORDER BY ci.position
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan collection item: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collection items: %w", err)
	}

	return ids, nil
}
