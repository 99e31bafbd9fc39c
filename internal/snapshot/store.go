// Package snapshot persists the last successfully processed notice set.
//
// The store is single-slot: the file holds the full notice list from the
// previous cycle and is replaced wholesale at the end of each cycle. No
// history is retained.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"portalwatch/internal/models"
)

// Store reads and replaces the snapshot file.
type Store struct {
	path string
}

// NewStore creates a store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the previous cycle's notices. A missing file is not an error:
// it yields an empty snapshot, as on first run or after a reset.
func (s *Store) Load() ([]models.Notice, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var notices []models.Notice
	if err := json.Unmarshal(data, &notices); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	return notices, nil
}

// Replace writes the new notice set, replacing the previous snapshot
// atomically via a temp file and rename so a crash mid-write never leaves
// a truncated snapshot behind.
func (s *Store) Replace(notices []models.Notice) error {
	if notices == nil {
		notices = []models.Notice{}
	}

	data, err := json.MarshalIndent(notices, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return nil
}
