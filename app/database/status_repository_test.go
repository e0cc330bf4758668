package database

import (
	"errors"
	"testing"
	"time"
)

func TestRegisterDiscovered(t *testing.T) {
	db := newTestDB(t)
	sourceID := newTestSource(t, db, "reg-source")
	repo := NewStatusRepository(db)

	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	isNew, err := repo.RegisterDiscovered(sourceID, "post-1", "https://example.com/post-1", "First post", &published)
	if err != nil {
		t.Fatalf("RegisterDiscovered failed: %v", err)
	}
	if !isNew {
		t.Error("Expected first registration to report new")
	}

	record, err := repo.GetRecord(sourceID, "post-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record == nil {
		t.Fatal("Expected status record after registration")
	}
	if record.Discovery.Status != StatusCompleted {
		t.Errorf("Expected discovery completed, got %s", record.Discovery.Status)
	}
	if record.Extraction.Status != StatusPending {
		t.Errorf("Expected extraction pending, got %s", record.Extraction.Status)
	}
	if record.Grouping.Status != StatusPending {
		t.Errorf("Expected grouping pending, got %s", record.Grouping.Status)
	}

	itemRepo := NewItemRepository(db)
	item, err := itemRepo.GetItemByRemoteID(sourceID, "post-1")
	if err != nil {
		t.Fatalf("GetItemByRemoteID failed: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item stub after registration")
	}
	if item.Title != "First post" {
		t.Errorf("Expected stub title 'First post', got %q", item.Title)
	}

	// Registering the same item again must change nothing.
	isNew, err = repo.RegisterDiscovered(sourceID, "post-1", "https://example.com/post-1", "First post", &published)
	if err != nil {
		t.Fatalf("Second RegisterDiscovered failed: %v", err)
	}
	if isNew {
		t.Error("Expected repeated registration to report not new")
	}
}

func TestMarkPhaseConditionalTransitions(t *testing.T) {
	db := newTestDB(t)
	sourceID := newTestSource(t, db, "cas-source")
	repo := NewStatusRepository(db)

	if _, err := repo.RegisterDiscovered(sourceID, "post-1", "https://example.com/post-1", "", nil); err != nil {
		t.Fatalf("RegisterDiscovered failed: %v", err)
	}

	if err := repo.MarkPhase(sourceID, "post-1", PhaseExtraction, StatusCompleted, ""); err != nil {
		t.Fatalf("MarkPhase completed failed: %v", err)
	}

	// A second completion must lose the race.
	err := repo.MarkPhase(sourceID, "post-1", PhaseExtraction, StatusCompleted, "")
	if !errors.Is(err, ErrStaleTransition) {
		t.Errorf("Expected ErrStaleTransition for repeated completion, got %v", err)
	}

	// A completed phase can no longer be failed.
	err = repo.MarkPhase(sourceID, "post-1", PhaseExtraction, StatusFailed, "late failure")
	if !errors.Is(err, ErrStaleTransition) {
		t.Errorf("Expected ErrStaleTransition for failing a completed phase, got %v", err)
	}

	record, err := repo.GetRecord(sourceID, "post-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.Extraction.Status != StatusCompleted {
		t.Errorf("Expected extraction to stay completed, got %s", record.Extraction.Status)
	}
	if record.Extraction.CompletedAt == nil {
		t.Error("Expected extraction completion timestamp")
	}
}

func TestMarkPhaseFailureAccumulatesAttempts(t *testing.T) {
	db := newTestDB(t)
	sourceID := newTestSource(t, db, "fail-source")
	repo := NewStatusRepository(db)

	if _, err := repo.RegisterDiscovered(sourceID, "post-1", "https://example.com/post-1", "", nil); err != nil {
		t.Fatalf("RegisterDiscovered failed: %v", err)
	}

	if err := repo.MarkPhase(sourceID, "post-1", PhaseExtraction, StatusFailed, "timeout"); err != nil {
		t.Fatalf("First failure failed: %v", err)
	}
	if err := repo.MarkPhase(sourceID, "post-1", PhaseExtraction, StatusFailed, "HTTP 500"); err != nil {
		t.Fatalf("Second failure failed: %v", err)
	}

	record, err := repo.GetRecord(sourceID, "post-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.Extraction.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", record.Extraction.Attempts)
	}
	if record.Extraction.LastError != "HTTP 500" {
		t.Errorf("Expected last error 'HTTP 500', got %q", record.Extraction.LastError)
	}

	// A failed phase stays retryable.
	if err := repo.MarkPhase(sourceID, "post-1", PhaseExtraction, StatusCompleted, ""); err != nil {
		t.Errorf("Expected failed phase to accept completion, got %v", err)
	}

	record, _ = repo.GetRecord(sourceID, "post-1")
	if record.Extraction.Status != StatusCompleted {
		t.Errorf("Expected extraction completed after retry, got %s", record.Extraction.Status)
	}
	if record.Extraction.Attempts != 2 {
		t.Errorf("Expected attempt history preserved, got %d", record.Extraction.Attempts)
	}
}

func TestListPendingGatesOnDiscovery(t *testing.T) {
	db := newTestDB(t)
	sourceID := newTestSource(t, db, "gate-source")
	repo := NewStatusRepository(db)

	if _, err := repo.RegisterDiscovered(sourceID, "discovered", "https://example.com/a", "", nil); err != nil {
		t.Fatalf("RegisterDiscovered failed: %v", err)
	}

	// A record whose discovery never completed must not surface for
	// later phases.
	if _, err := repo.GetOrCreate(sourceID, "undiscovered", "https://example.com/b"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	records, err := repo.ListPending(sourceID, PhaseExtraction, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 extraction-eligible record, got %d", len(records))
	}
	if records[0].ItemID != "discovered" {
		t.Errorf("Expected 'discovered' to be eligible, got %q", records[0].ItemID)
	}

	// For discovery itself there is no gate.
	records, err = repo.ListPending(sourceID, PhaseDiscovery, 10)
	if err != nil {
		t.Fatalf("ListPending for discovery failed: %v", err)
	}
	if len(records) != 1 || records[0].ItemID != "undiscovered" {
		t.Errorf("Expected only 'undiscovered' pending for discovery, got %d records", len(records))
	}
}

func TestListPendingIncludesFailed(t *testing.T) {
	db := newTestDB(t)
	sourceID := newTestSource(t, db, "retry-source")
	repo := NewStatusRepository(db)

	if _, err := repo.RegisterDiscovered(sourceID, "post-1", "https://example.com/post-1", "", nil); err != nil {
		t.Fatalf("RegisterDiscovered failed: %v", err)
	}
	if err := repo.MarkPhase(sourceID, "post-1", PhaseExtraction, StatusFailed, "boom"); err != nil {
		t.Fatalf("MarkPhase failed: %v", err)
	}

	records, err := repo.ListPending(sourceID, PhaseExtraction, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected failed record to remain eligible, got %d records", len(records))
	}

	failed, err := repo.ListFailed(sourceID, PhaseExtraction, 10)
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Extraction.LastError != "boom" {
		t.Errorf("Expected failed listing with last error, got %+v", failed)
	}
}

func TestResetPhase(t *testing.T) {
	db := newTestDB(t)
	sourceID := newTestSource(t, db, "reset-source")
	repo := NewStatusRepository(db)

	if _, err := repo.RegisterDiscovered(sourceID, "post-1", "https://example.com/post-1", "", nil); err != nil {
		t.Fatalf("RegisterDiscovered failed: %v", err)
	}
	if err := repo.MarkPhase(sourceID, "post-1", PhaseExtraction, StatusFailed, "boom"); err != nil {
		t.Fatalf("MarkPhase failed: %v", err)
	}
	if err := repo.MarkPhase(sourceID, "post-1", PhaseExtraction, StatusCompleted, ""); err != nil {
		t.Fatalf("MarkPhase failed: %v", err)
	}

	// Reset ignores the compare-and-swap guard.
	if err := repo.ResetPhase(sourceID, "post-1", PhaseExtraction); err != nil {
		t.Fatalf("ResetPhase failed: %v", err)
	}

	record, err := repo.GetRecord(sourceID, "post-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.Extraction.Status != StatusPending {
		t.Errorf("Expected extraction pending after reset, got %s", record.Extraction.Status)
	}
	if record.Extraction.CompletedAt != nil {
		t.Error("Expected completion timestamp cleared after reset")
	}
	if record.Extraction.Attempts != 1 {
		t.Errorf("Expected attempt history preserved across reset, got %d", record.Extraction.Attempts)
	}

	if err := repo.ResetPhase(sourceID, "missing", PhaseExtraction); err == nil {
		t.Error("Expected error resetting an untracked item")
	}
}

func TestResetDiscoveryIsRediscoverable(t *testing.T) {
	db := newTestDB(t)
	sourceID := newTestSource(t, db, "rediscover-source")
	repo := NewStatusRepository(db)

	if _, err := repo.RegisterDiscovered(sourceID, "post-1", "https://example.com/post-1", "Post", nil); err != nil {
		t.Fatalf("RegisterDiscovered failed: %v", err)
	}
	if err := repo.ResetPhase(sourceID, "post-1", PhaseDiscovery); err != nil {
		t.Fatalf("ResetPhase failed: %v", err)
	}

	// A reset record drops out of the known set so the next discovery
	// run picks the item up again, and the gate holds later phases back
	// until it does.
	known, err := repo.GetKnownIDs(sourceID)
	if err != nil {
		t.Fatalf("GetKnownIDs failed: %v", err)
	}
	if _, ok := known["post-1"]; ok {
		t.Error("Reset record must not be in the known set")
	}

	records, err := repo.ListPending(sourceID, PhaseExtraction, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no extraction candidates while discovery is pending, got %d", len(records))
	}

	isNew, err := repo.RegisterDiscovered(sourceID, "post-1", "https://example.com/post-1", "Post", nil)
	if err != nil {
		t.Fatalf("RegisterDiscovered failed: %v", err)
	}
	if !isNew {
		t.Error("Re-registering a reset record should report it as picked up")
	}

	record, err := repo.GetRecord(sourceID, "post-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.Discovery.Status != StatusCompleted {
		t.Errorf("Expected discovery completed after re-registration, got %s", record.Discovery.Status)
	}
	if record.Discovery.CompletedAt == nil {
		t.Error("Expected discovery completion timestamp after re-registration")
	}

	records, err = repo.ListPending(sourceID, PhaseExtraction, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 extraction candidate after re-registration, got %d", len(records))
	}
}

func TestGetKnownIDsAndPhaseCounts(t *testing.T) {
	db := newTestDB(t)
	sourceID := newTestSource(t, db, "counts-source")
	otherID := newTestSource(t, db, "other-source")
	repo := NewStatusRepository(db)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := repo.RegisterDiscovered(sourceID, id, "https://example.com/"+id, "", nil); err != nil {
			t.Fatalf("RegisterDiscovered failed: %v", err)
		}
	}
	if _, err := repo.RegisterDiscovered(otherID, "z", "https://example.com/z", "", nil); err != nil {
		t.Fatalf("RegisterDiscovered failed: %v", err)
	}

	if err := repo.MarkPhase(sourceID, "a", PhaseExtraction, StatusCompleted, ""); err != nil {
		t.Fatalf("MarkPhase failed: %v", err)
	}
	if err := repo.MarkPhase(sourceID, "b", PhaseExtraction, StatusFailed, "boom"); err != nil {
		t.Fatalf("MarkPhase failed: %v", err)
	}

	known, err := repo.GetKnownIDs(sourceID)
	if err != nil {
		t.Fatalf("GetKnownIDs failed: %v", err)
	}
	if len(known) != 3 {
		t.Errorf("Expected 3 known IDs, got %d", len(known))
	}
	if _, ok := known["z"]; ok {
		t.Error("Known set must not leak across sources")
	}

	counts, err := repo.GetPhaseCounts(sourceID)
	if err != nil {
		t.Fatalf("GetPhaseCounts failed: %v", err)
	}
	if counts[PhaseDiscovery].Completed != 3 {
		t.Errorf("Expected 3 discovery completions, got %d", counts[PhaseDiscovery].Completed)
	}
	extraction := counts[PhaseExtraction]
	if extraction.Completed != 1 || extraction.Failed != 1 || extraction.Pending != 1 {
		t.Errorf("Unexpected extraction counts: %+v", extraction)
	}
}
