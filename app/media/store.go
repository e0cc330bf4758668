package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klaudstn/postvault/app/database"
)

// Store is the content-addressed media store. Bytes are keyed by their
// SHA-256 hash, so identical media referenced by any number of items is
// stored exactly once; the database row carries the reference count
// that decides reclamation.
type Store struct {
	dir       string
	tmpDir    string
	mediaRepo *database.MediaRepository
}

func NewStore(dataDir string, mediaRepo *database.MediaRepository) (*Store, error) {
	dir := filepath.Join(dataDir, "media")
	tmpDir := filepath.Join(dir, "tmp")

	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directories: %w", err)
	}

	return &Store{
		dir:       dir,
		tmpDir:    tmpDir,
		mediaRepo: mediaRepo,
	}, nil
}

// Put stores a byte payload under its content hash and registers the
// media row. If the hash is already registered no bytes are written and
// isNew is false: this is the deduplication mechanism. The row is only
// written after the bytes are fully persisted and re-verified, so a
// crash mid-write leaves a stray temp file but never a dangling row.
func (s *Store) Put(data []byte, kind string) (string, bool, error) {
	if len(data) == 0 {
		return "", false, fmt.Errorf("refusing to store empty media payload")
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.mediaRepo.GetMediaByHash(hash)
	if err != nil {
		return "", false, err
	}

	mediaFile := database.MediaFile{
		Hash:        hash,
		Kind:        kind,
		StoragePath: s.relPath(hash),
		SizeBytes:   int64(len(data)),
	}
	if kind == "image" {
		mediaFile.Width, mediaFile.Height = imageDimensions(data)
	}

	if existing != nil {
		// Metadata mismatch check still applies to duplicate puts.
		if err := s.mediaRepo.InsertMedia(mediaFile); err != nil {
			return "", false, err
		}
		if err := s.ensureBytes(hash, data); err != nil {
			return "", false, err
		}
		return hash, false, nil
	}

	if err := s.writeBytes(hash, data); err != nil {
		return "", false, err
	}

	if err := s.mediaRepo.InsertMedia(mediaFile); err != nil {
		return "", false, err
	}

	return hash, true, nil
}

// Link records one item's reference to stored media. Idempotent per
// (hash, item, position).
func (s *Store) Link(hash, itemID string, position int, role string) error {
	_, err := s.mediaRepo.LinkMedia(itemID, hash, position, role)
	return err
}

// Unlink drops an item's references to a media file. The bytes stay on
// disk until a sweep reclaims them.
func (s *Store) Unlink(hash, itemID string) error {
	return s.mediaRepo.UnlinkMedia(itemID, hash)
}

// Path returns the absolute filesystem path for a stored hash.
func (s *Store) Path(hash string) string {
	return filepath.Join(s.dir, s.relPath(hash))
}

// Sweep deletes media files whose reference count reached zero. It is
// explicitly invoked, never run inline with unlinking, so concurrent
// readers are never left mid-read on a vanished file.
func (s *Store) Sweep() (int, int64, error) {
	candidates, err := s.mediaRepo.GetReclaimCandidates()
	if err != nil {
		return 0, 0, err
	}

	reclaimed := 0
	var freed int64

	for _, candidate := range candidates {
		deleted, err := s.mediaRepo.DeleteMedia(candidate.Hash)
		if err != nil {
			return reclaimed, freed, err
		}
		if !deleted {
			// Regained a reference since candidate listing; keep it.
			continue
		}

		path := s.Path(candidate.Hash)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove reclaimed media file", "hash", candidate.Hash, "path", path, "error", err)
			continue
		}

		reclaimed++
		freed += candidate.SizeBytes
	}

	return reclaimed, freed, nil
}

// writeBytes persists a payload via a temp file and an atomic rename,
// re-verifying the hash of what actually landed on disk before the
// caller registers the row.
func (s *Store) writeBytes(hash string, data []byte) error {
	tmp, err := os.CreateTemp(s.tmpDir, hash+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp media file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write media bytes: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync media bytes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp media file: %w", err)
	}

	written, err := os.ReadFile(tmpName)
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to re-read media bytes: %w", err)
	}
	sum := sha256.Sum256(written)
	if hex.EncodeToString(sum[:]) != hash {
		os.Remove(tmpName)
		return fmt.Errorf("media bytes failed hash verification after write")
	}

	final := s.Path(hash)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to create media shard directory: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move media file into place: %w", err)
	}

	return nil
}

// ensureBytes restores a registered file whose bytes went missing from
// disk (manual deletion, partial restore).
func (s *Store) ensureBytes(hash string, data []byte) error {
	path := s.Path(hash)
	if current, err := os.ReadFile(path); err == nil {
		if bytes.Equal(current, data) {
			return nil
		}
		return fmt.Errorf("%w: stored bytes for %s do not match their hash", database.ErrIntegrity, hash)
	}

	slog.Warn("Restoring missing media bytes for registered hash", "hash", hash)
	return s.writeBytes(hash, data)
}

// relPath shards files two levels deep by hash prefix so no single
// directory grows unbounded.
func (s *Store) relPath(hash string) string {
	return filepath.Join(hash[:2], hash[2:4], hash)
}

func imageDimensions(data []byte) (int, int) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return config.Width, config.Height
}
