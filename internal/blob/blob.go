// Package blob owns the on-disk document files. Files live under one
// documents root, partitioned by source type; user uploads nest one level
// deeper under their chat id.
package blob

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/pkg/models"
)

// Store places and removes document files.
type Store struct {
	root   string
	logger zerolog.Logger
}

// New creates a blob store rooted at documentsRoot.
func New(documentsRoot string) *Store {
	return &Store{
		root:   documentsRoot,
		logger: observability.Logger("blob"),
	}
}

// Root returns the documents root directory.
func (s *Store) Root() string { return s.root }

// SourceDir returns the directory files of one source type live in.
func (s *Store) SourceDir(source models.SourceType) string {
	return filepath.Join(s.root, string(source))
}

// PathFor computes the absolute path a stored file belongs at. chatID is
// only honored for user uploads.
func (s *Store) PathFor(source models.SourceType, chatID, storedName string) string {
	dir := s.SourceDir(source)
	if source == models.SourceUser && chatID != "" {
		dir = filepath.Join(dir, chatID)
	}
	return filepath.Join(dir, storedName)
}

// Place writes content to the file's canonical location, creating parent
// directories as needed, and returns the absolute path.
func (s *Store) Place(source models.SourceType, chatID, storedName string, content []byte) (string, error) {
	path := s.PathFor(source, chatID, storedName)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("write document file: %w", err)
	}
	s.logger.Debug().Str("path", path).Int("bytes", len(content)).Msg("placed document file")
	return path, nil
}

// Remove deletes a stored file. A missing file is not an error; rollback
// paths call this without knowing whether the write happened.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove document file: %w", err)
	}
	return nil
}

// Exists reports whether path is a regular file.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ListFiles walks the documents root and returns every regular file. Used
// by reconciliation to find files the catalog no longer knows about.
func (s *Store) ListFiles() ([]string, error) {
	return s.walk(s.root)
}

// ListSource returns every regular file under one source directory. A
// directory that does not exist yet lists as empty.
func (s *Store) ListSource(source models.SourceType) ([]string, error) {
	return s.walk(s.SourceDir(source))
}

func (s *Store) walk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}
