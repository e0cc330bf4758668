package database

import (
	"database/sql"
	"fmt"
)

// MediaRepository handles the media_files table and the item_media
// link table. Reference counts are mutated with atomic SQL increments,
// never read-modify-write in application code, because two items'
// workers may link the same bytes concurrently.
type MediaRepository struct {
	db *DB
}

func NewMediaRepository(db *DB) *MediaRepository {
	return &MediaRepository{db: db}
}

func (r *MediaRepository) GetMediaByHash(hash string) (*MediaFile, error) {
	var m MediaFile
	err := r.db.QueryRow(`
		SELECT hash, kind, storage_path, size_bytes, width, height, duration_secs, ref_count, created_at
		FROM media_files
		WHERE hash = ?
	`, hash).Scan(
		&m.Hash, &m.Kind, &m.StoragePath, &m.SizeBytes,
		&m.Width, &m.Height, &m.DurationSecs, &m.RefCount, &m.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media file: %w", err)
	}

	return &m, nil
}

// InsertMedia registers a media file row for bytes already persisted to
// the store. Exactly one row may exist per hash: re-registering the
// same hash with matching metadata is a no-op, mismatched metadata is
// an integrity violation and is never force-overwritten.
func (r *MediaRepository) InsertMedia(m MediaFile) error {
	existing, err := r.GetMediaByHash(m.Hash)
	if err != nil {
		return err
	}

	if existing != nil {
		if existing.Kind != m.Kind || existing.SizeBytes != m.SizeBytes {
			return fmt.Errorf("%w: media %s re-registered with mismatched metadata (kind %s/%s, size %d/%d)",
				ErrIntegrity, m.Hash, existing.Kind, m.Kind, existing.SizeBytes, m.SizeBytes)
		}
		return nil
	}

	_, err = r.db.Exec(`
		INSERT INTO media_files (hash, kind, storage_path, size_bytes, width, height, duration_secs, ref_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (hash) DO NOTHING
	`, m.Hash, m.Kind, m.StoragePath, m.SizeBytes, m.Width, m.Height, m.DurationSecs)
	if err != nil {
		return fmt.Errorf("failed to insert media file: %w", err)
	}

	return nil
}

// LinkMedia records one Item→MediaFile link and increments the
// reference count, atomically and idempotently: re-linking the same
// (item, hash, position) tuple changes nothing, which re-extraction
// relies on when it re-observes the same media.
func (r *MediaRepository) LinkMedia(itemID, hash string, position int, role string) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin link transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO item_media (item_id, media_hash, position, role)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (item_id, media_hash, position) DO NOTHING
	`, itemID, hash, position, role)
	if err != nil {
		return false, fmt.Errorf("failed to insert media link: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	result, err = tx.Exec(`UPDATE media_files SET ref_count = ref_count + 1 WHERE hash = ?`, hash)
	if err != nil {
		return false, fmt.Errorf("failed to increment reference count: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return false, fmt.Errorf("%w: link references unknown media %s", ErrIntegrity, hash)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit link transaction: %w", err)
	}

	return true, nil
}

// UnlinkMedia removes every link between an item and a media file and
// decrements the reference count accordingly. A count that would go
// negative aborts the operation: it indicates a logic bug, not a state
// to be patched over.
func (r *MediaRepository) UnlinkMedia(itemID, hash string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin unlink transaction: %w", err)
	}
	defer tx.Rollback()

	if err := unlinkInTx(tx, itemID, hash); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unlink transaction: %w", err)
	}

	return nil
}

// UnlinkMediaAt removes one positioned link and decrements the file's
// reference count by one. Unknown links are a no-op, so re-extraction
// can sweep stale positions without tracking which retry created them.
func (r *MediaRepository) UnlinkMediaAt(itemID, hash string, position int) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin unlink transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		DELETE FROM item_media WHERE item_id = ? AND media_hash = ? AND position = ?
	`, itemID, hash, position)
	if err != nil {
		return fmt.Errorf("failed to delete media link: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if removed == 0 {
		return nil
	}

	result, err = tx.Exec(`
		UPDATE media_files SET ref_count = ref_count - 1 WHERE hash = ? AND ref_count >= 1
	`, hash)
	if err != nil {
		return fmt.Errorf("failed to decrement reference count: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: reference count for %s would go negative", ErrIntegrity, hash)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unlink transaction: %w", err)
	}

	return nil
}

// UnlinkItemMedia removes all of an item's media links, adjusting each
// referenced file's count. Used by soft deletion, where no block
// sequence remains to reference the files.
func (r *MediaRepository) UnlinkItemMedia(itemID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin unlink transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT DISTINCT media_hash FROM item_media WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("failed to list item media links: %w", err)
	}

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan media hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating media hashes: %w", err)
	}
	rows.Close()

	for _, hash := range hashes {
		if err := unlinkInTx(tx, itemID, hash); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unlink transaction: %w", err)
	}

	return nil
}

func unlinkInTx(tx *sql.Tx, itemID, hash string) error {
	result, err := tx.Exec(`DELETE FROM item_media WHERE item_id = ? AND media_hash = ?`, itemID, hash)
	if err != nil {
		return fmt.Errorf("failed to delete media link: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if removed == 0 {
		return nil
	}

	result, err = tx.Exec(`
		UPDATE media_files SET ref_count = ref_count - ? WHERE hash = ? AND ref_count >= ?
	`, removed, hash, removed)
	if err != nil {
		return fmt.Errorf("failed to decrement reference count: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: reference count for %s would go negative", ErrIntegrity, hash)
	}

	return nil
}

func (r *MediaRepository) GetItemMedia(itemID string) ([]ItemMedia, error) {
	rows, err := r.db.Query(`
		SELECT item_id, media_hash, position, role
		FROM item_media
		WHERE item_id = ?
		ORDER BY position
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get item media: %w", err)
	}
	defer rows.Close()

	var links []ItemMedia
	for rows.Next() {
		var link ItemMedia
		if err := rows.Scan(&link.ItemID, &link.MediaHash, &link.Position, &link.Role); err != nil {
			return nil, fmt.Errorf("failed to scan media link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating media links: %w", err)
	}

	return links, nil
}

// GetReclaimCandidates returns media files whose reference count has
// reached zero. Reclamation itself is a separate sweep so bytes are
// never deleted out from under a concurrent reader.
func (r *MediaRepository) GetReclaimCandidates() ([]MediaFile, error) {
	rows, err := r.db.Query(`
		SELECT hash, kind, storage_path, size_bytes, width, height, duration_secs, ref_count, created_at
		FROM media_files
		WHERE ref_count = 0
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get reclaim candidates: %w", err)
	}
	defer rows.Close()

	var candidates []MediaFile
	for rows.Next() {
		var m MediaFile
		err := rows.Scan(
			&m.Hash, &m.Kind, &m.StoragePath, &m.SizeBytes,
			&m.Width, &m.Height, &m.DurationSecs, &m.RefCount, &m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		candidates = append(candidates, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating media rows: %w", err)
	}

	return candidates, nil
}

// DeleteMedia removes a media row, guarded so a row that regained a
// reference between candidate listing and deletion survives.
func (r *MediaRepository) DeleteMedia(hash string) (bool, error) {
	result, err := r.db.Exec(`DELETE FROM media_files WHERE hash = ? AND ref_count = 0`, hash)
	if err != nil {
		return false, fmt.Errorf("failed to delete media file: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}
