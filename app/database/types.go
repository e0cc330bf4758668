package database

import (
	"errors"
	"time"

	"github.com/klaudstn/postvault/app/content"
)

// Phase is one stage of the ingestion pipeline. Every item carries an
// independent status per phase; extraction and grouping are gated on
// discovery being completed.
type Phase string

const (
	PhaseDiscovery  Phase = "discovery"
	PhaseExtraction Phase = "extraction"
	PhaseGrouping   Phase = "grouping"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseDiscovery, PhaseExtraction, PhaseGrouping:
		return true
	}
	return false
}

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrIntegrity marks a state the storage layer refuses to enter: a
// reference count that would go negative, or a media row re-registered
// with mismatched metadata. Callers must abort, never force-overwrite.
var ErrIntegrity = errors.New("storage integrity violation")

// ErrStaleTransition is returned when a conditional phase update matched
// no row, meaning another worker already moved the item past this state.
var ErrStaleTransition = errors.New("phase transition lost: state already advanced")

type Source struct {
	ID        string // Database UUID
	Name      string // Configuration source name derived from filename
	Platform  string
	Creator   string
	RemoteURL string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Item struct {
	ID          string // Database UUID
	SourceID    string
	RemoteID    string // Platform-side item identifier, unique per source
	Title       string
	URL         string
	PublishedAt *time.Time
	Tags        []string
	Blocks      []content.Block
	MediaCount  int
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type MediaFile struct {
	Hash         string // SHA-256 hex, primary key
	Kind         string // image, video, audio
	StoragePath  string
	SizeBytes    int64
	Width        int
	Height       int
	DurationSecs float64
	RefCount     int
	CreatedAt    time.Time
}

type ItemMedia struct {
	ItemID    string
	MediaHash string
	Position  int
	Role      string // cover, inline
}

type Collection struct {
	ID        string
	SourceID  string
	Name      string
	CreatedAt time.Time
}

// PhaseState is the tracked status of one phase for one item.
type PhaseState struct {
	Status      string
	Attempts    int
	LastError   string
	CompletedAt *time.Time
}

// StatusRecord is the authoritative resumability record for one
// (source, item) pair. Items and their blocks are rebuildable from it
// plus the captured payloads; the record itself is never cascade-deleted.
type StatusRecord struct {
	ID         string
	SourceID   string
	ItemID     string // remote item identifier
	URL        string
	Discovery  PhaseState
	Extraction PhaseState
	Grouping   PhaseState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r *StatusRecord) Phase(p Phase) *PhaseState {
	switch p {
	case PhaseDiscovery:
		return &r.Discovery
	case PhaseExtraction:
		return &r.Extraction
	case PhaseGrouping:
		return &r.Grouping
	}
	return nil
}

// PhaseCounts reports per-status totals for one phase of one source.
type PhaseCounts struct {
	Pending   int
	Completed int
	Failed    int
}
