// Package blob is a local-filesystem store for dataset files and handler
// outputs, rooted at a configured directory. Paths handed to callers are
// relative to the root so they stay portable across deployments.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type LocalFS struct {
	Root string
}

// Put writes the reader's content under relPath and returns the cleaned
// relative path.
func (l LocalFS) Put(relPath string, r io.Reader) (string, error) {
	clean, err := l.resolve(relPath)
	if err != nil {
		return "", err
	}
	abs := filepath.Join(l.Root, clean)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return clean, nil
}

// Open opens a stored file for reading.
func (l LocalFS) Open(relPath string) (*os.File, error) {
	clean, err := l.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(l.Root, clean))
}

// ReadAll reads a stored file's full content.
func (l LocalFS) ReadAll(relPath string) ([]byte, error) {
	f, err := l.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Exists reports whether relPath is stored.
func (l LocalFS) Exists(relPath string) bool {
	clean, err := l.resolve(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(l.Root, clean))
	return err == nil
}

// resolve cleans relPath and rejects escapes above the root.
func (l LocalFS) resolve(relPath string) (string, error) {
	clean := filepath.Clean(relPath)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob path: %q", relPath)
	}
	return clean, nil
}
