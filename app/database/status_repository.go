package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusRepository owns the ingestion_status table: one row per
// (source, item), three independent phase states per row. This is the
// authoritative resumability record; nothing in this repository ever
// cascade-deletes it.
type StatusRepository struct {
	db *DB
}

func NewStatusRepository(db *DB) *StatusRepository {
	return &StatusRepository{db: db}
}

const statusColumns = `id, source_id, item_id, url,
	discovery_status, discovery_attempts, discovery_error, discovery_completed_at,
	extraction_status, extraction_attempts, extraction_error, extraction_completed_at,
	grouping_status, grouping_attempts, grouping_error, grouping_completed_at,
	created_at, updated_at`

// GetOrCreate returns the status record for (source, item), creating a
// fresh all-pending record if none exists.
func (r *StatusRepository) GetOrCreate(sourceID, itemID, url string) (*StatusRecord, error) {
	record, err := r.GetRecord(sourceID, itemID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	_, err = r.db.Exec(`
		INSERT INTO ingestion_status (id, source_id, item_id, url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source_id, item_id) DO NOTHING
	`, uuid.NewString(), sourceID, itemID, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create status record: %w", err)
	}

	return r.GetRecord(sourceID, itemID)
}

func (r *StatusRepository) GetRecord(sourceID, itemID string) (*StatusRecord, error) {
	row := r.db.QueryRow(`SELECT `+statusColumns+` FROM ingestion_status WHERE source_id = ? AND item_id = ?`,
		sourceID, itemID)

	record, err := scanStatusRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status record: %w", err)
	}

	return record, nil
}

// RegisterDiscovered creates the item stub and its status record in a
// single transaction, with discovery already completed and the later
// phases pending. Idempotent: an already-completed item is left
// untouched and reported as not new, while a record whose discovery
// was reset (or failed) is re-completed so the later phases unblock.
// One transaction per item keeps a crash from producing a
// half-registered item.
func (r *StatusRepository) RegisterDiscovered(sourceID, remoteID, url, title string, publishedAt *time.Time) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin registration transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.Exec(`
		INSERT INTO ingestion_status (id, source_id, item_id, url, discovery_status, discovery_completed_at)
		VALUES (?, ?, ?, ?, 'completed', ?)
		ON CONFLICT (source_id, item_id) DO UPDATE
		SET discovery_status = 'completed', discovery_completed_at = excluded.discovery_completed_at,
			discovery_error = '', updated_at = excluded.discovery_completed_at
		WHERE ingestion_status.discovery_status IN ('pending', 'failed')
	`, uuid.NewString(), sourceID, remoteID, url, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert status record: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	_, err = tx.Exec(`
		INSERT INTO items (id, source_id, remote_id, title, url, published_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, remote_id) DO NOTHING
	`, uuid.NewString(), sourceID, remoteID, title, url, publishedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert item stub: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit registration transaction: %w", err)
	}

	return true, nil
}

// MarkPhase transitions one phase of one item. The update is a
// compare-and-swap: it only applies while the phase is pending or
// failed, so two workers can never both complete the same item. A
// failed outcome increments the attempt counter and stores the error
// text; it never deletes the record.
func (r *StatusRepository) MarkPhase(sourceID, itemID string, phase Phase, outcome string, errMsg string) error {
	if !phase.Valid() {
		return fmt.Errorf("unknown phase: %s", phase)
	}

	var query string
	var args []interface{}
	now := time.Now().UTC()

	switch outcome {
	case StatusCompleted:
		query = fmt.Sprintf(`
			UPDATE ingestion_status
			SET %[1]s_status = 'completed', %[1]s_completed_at = ?, %[1]s_error = '', updated_at = ?
			WHERE source_id = ? AND item_id = ? AND %[1]s_status IN ('pending', 'failed')
		`, phase)
		args = []interface{}{now, now, sourceID, itemID}
	case StatusFailed:
		query = fmt.Sprintf(`
			UPDATE ingestion_status
			SET %[1]s_status = 'failed', %[1]s_attempts = %[1]s_attempts + 1, %[1]s_error = ?, updated_at = ?
			WHERE source_id = ? AND item_id = ? AND %[1]s_status IN ('pending', 'failed')
		`, phase)
		args = []interface{}{errMsg, now, sourceID, itemID}
	default:
		return fmt.Errorf("unknown phase outcome: %s", outcome)
	}

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark phase: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStaleTransition
	}

	return nil
}

// ResetPhase is the explicit administrative escape hatch: it forces a
// phase back to pending regardless of its current state, for recovering
// from a corrupted extraction. Attempt history is preserved.
func (r *StatusRepository) ResetPhase(sourceID, itemID string, phase Phase) error {
	if !phase.Valid() {
		return fmt.Errorf("unknown phase: %s", phase)
	}

	query := fmt.Sprintf(`
		UPDATE ingestion_status
		SET %[1]s_status = 'pending', %[1]s_completed_at = NULL, updated_at = ?
		WHERE source_id = ? AND item_id = ?
	`, phase)

	result, err := r.db.Exec(query, time.Now().UTC(), sourceID, itemID)
	if err != nil {
		return fmt.Errorf("failed to reset phase: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("status record for item '%s' not found", itemID)
	}

	return nil
}

// ListPending returns records eligible for a phase run: pending or
// failed (retryable) for that phase, and for phases after discovery,
// only records whose discovery already completed. Orders oldest first
// so retries do not starve.
func (r *StatusRepository) ListPending(sourceID string, phase Phase, limit int) ([]StatusRecord, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("unknown phase: %s", phase)
	}

	gate := ""
	if phase != PhaseDiscovery {
		gate = "AND discovery_status = 'completed'"
	}

	query := fmt.Sprintf(`
		SELECT `+statusColumns+`
		FROM ingestion_status
		WHERE source_id = ? AND %s_status IN ('pending', 'failed') %s
		ORDER BY created_at ASC
		LIMIT ?
	`, phase, gate)

	rows, err := r.db.Query(query, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	defer rows.Close()

	var records []StatusRecord
	for rows.Next() {
		record, err := scanStatusRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status rows: %w", err)
	}

	return records, nil
}

// ListFailed returns records whose given phase is failed, with their
// last error text, for operator diagnosis.
func (r *StatusRepository) ListFailed(sourceID string, phase Phase, limit int) ([]StatusRecord, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("unknown phase: %s", phase)
	}

	query := fmt.Sprintf(`
		SELECT `+statusColumns+`
		FROM ingestion_status
		WHERE source_id = ? AND %s_status = 'failed'
		ORDER BY updated_at DESC
		LIMIT ?
	`, phase)

	rows, err := r.db.Query(query, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed records: %w", err)
	}
	defer rows.Close()

	var records []StatusRecord
	for rows.Next() {
		record, err := scanStatusRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status rows: %w", err)
	}

	return records, nil
}

// GetKnownIDs returns the set of remote item IDs whose discovery has
// completed for a source, read fresh from the table on every discovery
// run rather than cached, so the known set can never drift from the
// persisted truth. A record whose discovery was reset is deliberately
// not known: the next run must re-register it.
func (r *StatusRepository) GetKnownIDs(sourceID string) (map[string]struct{}, error) {
	rows, err := r.db.Query(`SELECT item_id FROM ingestion_status WHERE source_id = ? AND discovery_status = 'completed'`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get known item IDs: %w", err)
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item ID: %w", err)
		}
		known[id] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item IDs: %w", err)
	}

	return known, nil
}

// GetPhaseCounts reports pending/completed/failed totals per phase for
// one source.
func (r *StatusRepository) GetPhaseCounts(sourceID string) (map[Phase]PhaseCounts, error) {
	counts := make(map[Phase]PhaseCounts)

	for _, phase := range []Phase{PhaseDiscovery, PhaseExtraction, PhaseGrouping} {
		query := fmt.Sprintf(`
			SELECT
				SUM(CASE WHEN %[1]s_status = 'pending' THEN 1 ELSE 0 END),
				SUM(CASE WHEN %[1]s_status = 'completed' THEN 1 ELSE 0 END),
				SUM(CASE WHEN %[1]s_status = 'failed' THEN 1 ELSE 0 END)
			FROM ingestion_status
			WHERE source_id = ?
		`, phase)

		var pending, completed, failed sql.NullInt64
		if err := r.db.QueryRow(query, sourceID).Scan(&pending, &completed, &failed); err != nil {
			return nil, fmt.Errorf("failed to get phase counts: %w", err)
		}

		counts[phase] = PhaseCounts{
			Pending:   int(pending.Int64),
			Completed: int(completed.Int64),
			Failed:    int(failed.Int64),
		}
	}

	return counts, nil
}

func scanStatusRecord(row rowScanner) (*StatusRecord, error) {
	var record StatusRecord
	err := row.Scan(
		&record.ID, &record.SourceID, &record.ItemID, &record.URL,
		&record.Discovery.Status, &record.Discovery.Attempts, &record.Discovery.LastError, &record.Discovery.CompletedAt,
		&record.Extraction.Status, &record.Extraction.Attempts, &record.Extraction.LastError, &record.Extraction.CompletedAt,
		&record.Grouping.Status, &record.Grouping.Attempts, &record.Grouping.LastError, &record.Grouping.CompletedAt,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}
