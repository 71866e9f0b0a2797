// Package local keeps failure artifacts on the local filesystem, one
// directory per run and stage.
package local

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/JakeFAU/conference-crawler/internal/storage"
)

// Store writes artifacts below a root directory. Writes go through an
// os.Root, so a key can never resolve outside it.
type Store struct {
	dir  string
	root *os.Root
}

// New creates dir if needed and opens it as the artifact root.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("open artifact directory: %w", err)
	}
	return &Store{dir: abs, root: root}, nil
}

// Save writes a under <dir>/<run>/<stage>/ and returns a file:// URI. The
// file appears atomically; a repeated capture of the same page replaces it.
func (s *Store) Save(ctx context.Context, a storage.Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := a.Validate(); err != nil {
		return "", err
	}

	key := a.Key()
	if err := s.root.MkdirAll(path.Dir(key), 0o750); err != nil {
		return "", fmt.Errorf("create %s: %w", path.Dir(key), err)
	}
	tmp := key + ".tmp"
	if err := s.root.WriteFile(tmp, a.Data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := s.root.Rename(tmp, key); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", key, err)
	}
	return "file://" + filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

// Dir is the absolute artifact root.
func (s *Store) Dir() string { return s.dir }

// Close releases the root directory handle.
func (s *Store) Close() error { return s.root.Close() }
