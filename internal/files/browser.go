// Package files implements the single-directory browser and app launcher.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lcars-os/internal/config"
	"lcars-os/internal/domain"
)

// HomeDir returns the user's home directory.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return home, nil
}

// ListDirectory lists one directory, skipping dot-files. An empty path lists
// the home directory. Directories come first, then entries by name.
func ListDirectory(path string) ([]domain.FileEntry, error) {
	dir := strings.TrimSpace(path)
	if dir == "" {
		dir = config.HomeDir()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory: %w", err)
	}

	result := make([]domain.FileEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		item := domain.FileEntry{
			Name: name,
			Path: filepath.Join(dir, name),
		}
		// Unreadable metadata (dangling symlink, permission) lists as an empty file.
		if info, err := entry.Info(); err == nil {
			item.IsDir = info.IsDir()
			if !item.IsDir {
				item.Size = info.Size()
			}
		}
		result = append(result, item)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].IsDir != result[j].IsDir {
			return result[i].IsDir
		}
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})
	return result, nil
}
