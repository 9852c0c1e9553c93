package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alfredoluis848/ndvi-ingester/common"
)

// LocalStore implements Store on a local directory. Atomicity is obtained by
// writing to a temporary file in the destination directory and renaming it
// over the final name.
type LocalStore struct {
	root string
}

// NewLocalStore creates a Store rooted at the given directory
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Put implements Store
func (s *LocalStore) Put(ctx context.Context, tile common.TileRef, r io.Reader) (string, error) {
	dst := filepath.Join(s.root, filepath.FromSlash(rasterPath(tile)))
	if err := os.MkdirAll(filepath.Dir(dst), 0766); err != nil {
		return "", ErrUnavailable{fmt.Errorf("mkdir: %w", err)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp")
	if err != nil {
		return "", ErrUnavailable{fmt.Errorf("createtemp: %w", err)}
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", ErrUnavailable{fmt.Errorf("write %s: %w", dst, err)}
	}
	if err := tmp.Close(); err != nil {
		return "", ErrUnavailable{fmt.Errorf("close %s: %w", dst, err)}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", ErrUnavailable{fmt.Errorf("rename %s: %w", dst, err)}
	}
	return dst, nil
}

// Get implements Store
func (s *LocalStore) Get(ctx context.Context, tile common.TileRef) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(rasterPath(tile))))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrRasterNotFound{Key: tile.Key()}
		}
		return nil, ErrUnavailable{err}
	}
	return f, nil
}

// Exists implements Store
func (s *LocalStore) Exists(ctx context.Context, tile common.TileRef) (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(rasterPath(tile))))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, ErrUnavailable{err}
}

// Delete implements Store
func (s *LocalStore) Delete(ctx context.Context, tile common.TileRef) error {
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rasterPath(tile))))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrRasterNotFound{Key: tile.Key()}
		}
		return ErrUnavailable{err}
	}
	return nil
}
