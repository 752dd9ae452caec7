// Package persist stores the UI's tasks and captain's log as opaque JSON blobs.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EmptyBlob is returned when nothing has been saved yet.
const EmptyBlob = "[]"

// ErrInvalidJSON is returned when Save is given a payload that does not parse.
var ErrInvalidJSON = errors.New("payload is not valid JSON")

// BlobStore persists one JSON document in a single file.
type BlobStore struct {
	path  string
	label string
}

// NewBlobStore creates a store; label names the blob in error messages.
func NewBlobStore(path, label string) *BlobStore {
	return &BlobStore{path: path, label: label}
}

// TasksPath is the per-user tasks file.
func TasksPath(home string) string {
	return filepath.Join(home, ".lcars-os-tasks.json")
}

// CaptainsLogPath is the per-user captain's log file.
func CaptainsLogPath(home string) string {
	return filepath.Join(home, ".lcars-os-captains-log.json")
}

// Path returns the backing file location.
func (s *BlobStore) Path() string {
	return s.path
}

// Load returns the stored document or EmptyBlob when none exists.
func (s *BlobStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return EmptyBlob, nil
		}
		return "", fmt.Errorf("cannot load %s: %w", s.label, err)
	}
	return string(data), nil
}

// Save replaces the stored document. The write goes through a temp file and
// rename so a crash never leaves a truncated blob behind.
func (s *BlobStore) Save(data string) error {
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("cannot save %s: %w", s.label, ErrInvalidJSON)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot save %s: %w", s.label, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cannot save %s: %w", s.label, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot save %s: %w", s.label, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot save %s: %w", s.label, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot save %s: %w", s.label, err)
	}
	return nil
}
