package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceRepository handles database operations for sources
type SourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// UpsertSource registers a configured source, reporting whether its
// remote URL changed since the last sync. Source rows are never
// deleted, only deactivated, because historical items reference them.
func (r *SourceRepository) UpsertSource(name, platform, creator, remoteURL string) (string, bool, error) {
	existing, err := r.GetSourceByName(name)
	if err != nil {
		return "", false, fmt.Errorf("failed to check existing source: %w", err)
	}

	if existing != nil {
		urlChanged := existing.RemoteURL != remoteURL

		_, err = r.db.Exec(`
			UPDATE sources
			SET platform = ?, creator = ?, remote_url = ?, updated_at = ?
			WHERE name = ?
		`, platform, creator, remoteURL, time.Now().UTC(), name)
		if err != nil {
			return "", false, fmt.Errorf("failed to update source: %w", err)
		}

		return existing.ID, urlChanged, nil
	}

	id := uuid.NewString()
	_, err = r.db.Exec(`
		INSERT INTO sources (id, name, platform, creator, remote_url, active)
		VALUES (?, ?, ?, ?, ?, 1)
	`, id, name, platform, creator, remoteURL)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert source: %w", err)
	}

	return id, false, nil
}

func (r *SourceRepository) GetSourceByName(name string) (*Source, error) {
	var source Source
	err := r.db.QueryRow(`
		SELECT id, name, platform, creator, remote_url, active, created_at, updated_at
		FROM sources
		WHERE name = ?
	`, name).Scan(
		&source.ID, &source.Name, &source.Platform, &source.Creator,
		&source.RemoteURL, &source.Active, &source.CreatedAt, &source.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return &source, nil
}

func (r *SourceRepository) GetSources() ([]Source, error) {
	rows, err := r.db.Query(`
		SELECT id, name, platform, creator, remote_url, active, created_at, updated_at
		FROM sources
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	var result []Source
	for rows.Next() {
		var source Source
		err := rows.Scan(
			&source.ID, &source.Name, &source.Platform, &source.Creator,
			&source.RemoteURL, &source.Active, &source.CreatedAt, &source.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		result = append(result, source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return result, nil
}

func (r *SourceRepository) SetSourceActive(name string, active bool) error {
	result, err := r.db.Exec(`
		UPDATE sources SET active = ?, updated_at = ? WHERE name = ?
	`, active, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to update source active flag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("source '%s' not found", name)
	}

	return nil
}

// PurgeReport is the dry-run accounting for a source purge: what a
// confirmed execution would remove and how media reference counts
// would be adjusted.
type PurgeReport struct {
	SourceID       string `json:"source_id"`
	SourceName     string `json:"source_name"`
	Items          int    `json:"items"`
	StatusRows     int    `json:"status_rows"`
	MediaLinks     int    `json:"media_links"`
	MediaReclaimed int    `json:"media_reclaimable"`
	Collections    int    `json:"collections"`
}

// PurgeDryRun reports what PurgeSource would remove, without touching
// anything. Purging is the only operation allowed to remove tracked
// items and status rows, and it never runs without this report having
// been requested first.
func (r *SourceRepository) PurgeDryRun(name string) (*PurgeReport, error) {
	source, err := r.GetSourceByName(name)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("source '%s' not found", name)
	}

	report := &PurgeReport{SourceID: source.ID, SourceName: source.Name}

	queries := []struct {
		dest  *int
		query string
	}{
		{&report.Items, `SELECT COUNT(*) FROM items WHERE source_id = ?`},
		{&report.StatusRows, `SELECT COUNT(*) FROM ingestion_status WHERE source_id = ?`},
		{&report.MediaLinks, `SELECT COUNT(*) FROM item_media im JOIN items i ON i.id = im.item_id WHERE i.source_id = ?`},
		{&report.Collections, `SELECT COUNT(*) FROM collections WHERE source_id = ?`},
	}

	for _, q := range queries {
		if err := r.db.QueryRow(q.query, source.ID).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to build purge report: %w", err)
		}
	}

	// Media files whose every link comes from this source would drop to
	// a zero reference count.
	err = r.db.QueryRow(`
		SELECT COUNT(*) FROM media_files m
		WHERE m.ref_count > 0
		  AND m.ref_count = (
			SELECT COUNT(*) FROM item_media im
			JOIN items i ON i.id = im.item_id
			WHERE im.media_hash = m.hash AND i.source_id = ?
		  )
	`, source.ID).Scan(&report.MediaReclaimed)
	if err != nil {
		return nil, fmt.Errorf("failed to count reclaimable media: %w", err)
	}

	return report, nil
}

// PurgeSource removes every item, status row, media link, and
// collection belonging to a source, adjusting media reference counts
// link by link, then deactivates the source row. The whole purge runs
// in one transaction: it either completes fully or leaves nothing
// half-removed.
func (r *SourceRepository) PurgeSource(name string) error {
	source, err := r.GetSourceByName(name)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("source '%s' not found", name)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin purge transaction: %w", err)
	}
	defer tx.Rollback()

	// Adjust reference counts before removing the links they count.
	_, err = tx.Exec(`
		UPDATE media_files
		SET ref_count = ref_count - (
			SELECT COUNT(*) FROM item_media im
			JOIN items i ON i.id = im.item_id
			WHERE im.media_hash = media_files.hash AND i.source_id = ?
		)
		WHERE hash IN (
			SELECT im.media_hash FROM item_media im
			JOIN items i ON i.id = im.item_id
			WHERE i.source_id = ?
		)
	`, source.ID, source.ID)
	if err != nil {
		return fmt.Errorf("failed to adjust media reference counts: %w", err)
	}

	statements := []string{
		`DELETE FROM item_media WHERE item_id IN (SELECT id FROM items WHERE source_id = ?)`,
		`DELETE FROM search_tokens WHERE item_id IN (SELECT id FROM items WHERE source_id = ?)`,
		`DELETE FROM search_entries WHERE item_id IN (SELECT id FROM items WHERE source_id = ?)`,
		`DELETE FROM collection_items WHERE collection_id IN (SELECT id FROM collections WHERE source_id = ?)`,
		`DELETE FROM collections WHERE source_id = ?`,
		`DELETE FROM items WHERE source_id = ?`,
		`DELETE FROM ingestion_status WHERE source_id = ?`,
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt, source.ID); err != nil {
			return fmt.Errorf("failed to purge source data: %w", err)
		}
	}

	// The source row itself stays, deactivated.
	_, err = tx.Exec(`UPDATE sources SET active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), source.ID)
	if err != nil {
		return fmt.Errorf("failed to deactivate source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge transaction: %w", err)
	}

	return nil
}
