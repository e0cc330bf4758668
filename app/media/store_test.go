package media

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/klaudstn/postvault/app/database"
)

func newTestStore(t *testing.T) (*Store, *database.DB) {
	t.Helper()

	dataDir := t.TempDir()
	db, err := database.NewConnection(dataDir)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	store, err := NewStore(dataDir, database.NewMediaRepository(db))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	return store, db
}

func newStoreTestItem(t *testing.T, db *database.DB, remoteID string) string {
	t.Helper()

	sourceRepo := database.NewSourceRepository(db)
	sourceID, _, err := sourceRepo.UpsertSource("store-source", "testplatform", "testcreator", "https://example.com")
	if err != nil {
		t.Fatalf("Failed to create test source: %v", err)
	}

	statusRepo := database.NewStatusRepository(db)
	if _, err := statusRepo.RegisterDiscovered(sourceID, remoteID, "https://example.com/"+remoteID, "", nil); err != nil {
		t.Fatalf("Failed to register test item: %v", err)
	}

	item, err := database.NewItemRepository(db).GetItemByRemoteID(sourceID, remoteID)
	if err != nil || item == nil {
		t.Fatalf("Failed to load test item: %v", err)
	}

	return item.ID
}

func TestPutStoresAndDeduplicates(t *testing.T) {
	store, _ := newTestStore(t)

	payload := []byte("media payload bytes")
	sum := sha256.Sum256(payload)
	wantHash := hex.EncodeToString(sum[:])

	hash, isNew, err := store.Put(payload, "image")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if hash != wantHash {
		t.Errorf("Expected content hash %s, got %s", wantHash, hash)
	}
	if !isNew {
		t.Error("Expected first put to report new")
	}

	data, err := os.ReadFile(store.Path(hash))
	if err != nil {
		t.Fatalf("Failed to read stored bytes: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("Stored bytes do not match payload")
	}

	// Identical bytes land on the existing file.
	hash2, isNew, err := store.Put(payload, "image")
	if err != nil {
		t.Fatalf("Duplicate put failed: %v", err)
	}
	if hash2 != hash {
		t.Errorf("Expected same hash for identical bytes, got %s", hash2)
	}
	if isNew {
		t.Error("Expected duplicate put to report not new")
	}

	// Same bytes claimed as a different kind must be rejected.
	if _, _, err := store.Put(payload, "video"); err == nil {
		t.Error("Expected error for duplicate put with mismatched kind")
	}
}

func TestPutRejectsEmptyPayload(t *testing.T) {
	store, _ := newTestStore(t)

	if _, _, err := store.Put(nil, "image"); err == nil {
		t.Error("Expected error for empty payload")
	}
}

func TestPutRestoresMissingBytes(t *testing.T) {
	store, _ := newTestStore(t)

	payload := []byte("bytes that will go missing")
	hash, _, err := store.Put(payload, "image")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := os.Remove(store.Path(hash)); err != nil {
		t.Fatalf("Failed to remove stored file: %v", err)
	}

	// A duplicate put of a registered hash restores the bytes.
	if _, _, err := store.Put(payload, "image"); err != nil {
		t.Fatalf("Put after byte loss failed: %v", err)
	}
	if _, err := os.Stat(store.Path(hash)); err != nil {
		t.Errorf("Expected bytes restored on disk: %v", err)
	}
}

func TestSweepReclaimsUnreferenced(t *testing.T) {
	store, db := newTestStore(t)
	itemID := newStoreTestItem(t, db, "post-1")

	keptHash, _, err := store.Put([]byte("referenced bytes"), "image")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	orphanHash, _, err := store.Put([]byte("orphaned bytes"), "image")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := store.Link(keptHash, itemID, 0, "inline"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	reclaimed, freed, err := store.Sweep()
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if reclaimed != 1 {
		t.Errorf("Expected 1 file reclaimed, got %d", reclaimed)
	}
	if freed != int64(len("orphaned bytes")) {
		t.Errorf("Expected %d bytes freed, got %d", len("orphaned bytes"), freed)
	}

	if _, err := os.Stat(store.Path(orphanHash)); !os.IsNotExist(err) {
		t.Error("Expected orphaned file removed from disk")
	}
	if _, err := os.Stat(store.Path(keptHash)); err != nil {
		t.Errorf("Expected referenced file to survive sweep: %v", err)
	}

	// Unlinking alone never deletes bytes; only the next sweep does.
	if err := store.Unlink(keptHash, itemID); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if _, err := os.Stat(store.Path(keptHash)); err != nil {
		t.Errorf("Expected bytes to stay on disk until sweep: %v", err)
	}

	reclaimed, _, err = store.Sweep()
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}
	if reclaimed != 1 {
		t.Errorf("Expected second sweep to reclaim the unlinked file, got %d", reclaimed)
	}
}
