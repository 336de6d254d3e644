package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/cargohold/pkg/regerr"
)

// fsBackend is the default Backend: a plain directory tree rooted at
// Root, with keys mapped directly onto relative file paths.
type fsBackend struct {
	root string
}

// NewFilesystem creates a Backend rooted at root, creating the directory
// if it does not exist.
func NewFilesystem(root string) (Backend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating object store root %s: %w", root, err)
	}
	return &fsBackend{root: root}, nil
}

func (f *fsBackend) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *fsBackend) Put(_ context.Context, key string, data io.Reader, _ int64) error {
	p := f.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating object store directory: %w", err)
	}

	tmp := p + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating object store temp file: %w", err)
	}
	if _, err := io.Copy(out, data); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing object store blob: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing object store blob: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing object store blob: %w", err)
	}
	return nil
}

func (f *fsBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, regerr.Wrap(regerr.NotFound, "blob "+key+" not found", err)
		}
		return nil, fmt.Errorf("opening object store blob: %w", err)
	}
	return file, nil
}

func (f *fsBackend) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(f.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (f *fsBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting object store blob: %w", err)
	}
	return nil
}
