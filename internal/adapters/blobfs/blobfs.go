// Package blobfs is a write-once local blob store with public-URL resolution.
package blobfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrObjectExists is returned when writing to a path that already holds an object.
var ErrObjectExists = errors.New("object already exists")

// Store writes blobs under Root and resolves them to public URLs under BaseURL.
type Store struct {
	root    string
	baseURL string
}

// New creates a Store. baseURL is trimmed of trailing slashes.
func New(root, baseURL string) *Store {
	return &Store{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Put writes the reader's contents to relPath without overwrite semantics:
// a pre-existing object fails with ErrObjectExists. Returns the number of
// bytes written.
func (s *Store) Put(relPath string, r io.Reader) (int64, error) {
	abs, err := s.resolve(relPath)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("create object directory: %w", err)
	}

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, ErrObjectExists
		}
		return 0, fmt.Errorf("create object: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(abs)
		return 0, fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(abs)
		return 0, fmt.Errorf("close object: %w", err)
	}
	return n, nil
}

// Open opens a stored object for reading.
func (s *Store) Open(relPath string) (*os.File, error) {
	abs, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// Exists reports whether an object is stored at relPath.
func (s *Store) Exists(relPath string) bool {
	abs, err := s.resolve(relPath)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(abs)
	return statErr == nil
}

// PublicURL resolves a stored path to its public-facing URL.
func (s *Store) PublicURL(relPath string) string {
	return s.baseURL + "/" + strings.TrimLeft(filepath.ToSlash(relPath), "/")
}

// resolve cleans relPath and rejects traversal outside the root.
func (s *Store) resolve(relPath string) (string, error) {
	clean := filepath.Clean("/" + relPath)
	if clean == "/" {
		return "", errors.New("object path is required")
	}
	return filepath.Join(s.root, clean), nil
}
