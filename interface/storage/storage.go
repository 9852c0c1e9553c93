// Package storage persists computed rasters keyed by tile identifier and
// acquisition date. Puts are atomic and idempotent: a concurrent or repeated
// put for the same key never exposes a partially written artefact to Get.
package storage

import (
	"context"
	"fmt"
	"io"
	neturl "net/url"
	"path"
	"strings"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/service/raster"
)

// ErrRasterNotFound is returned by Get and Delete for an unknown key
type ErrRasterNotFound struct {
	Key string
}

func (e ErrRasterNotFound) Error() string {
	return fmt.Sprintf("raster not found: %s", e.Key)
}

// ErrUnavailable wraps a backend failure (as opposed to a missing key)
type ErrUnavailable struct {
	Err error
}

func (e ErrUnavailable) Error() string { return fmt.Sprintf("store unavailable: %v", e.Err) }
func (e ErrUnavailable) Unwrap() error { return e.Err }

// Store is the result store of the pipeline
type Store interface {
	// Put atomically persists the payload under the tile's key and returns
	// its uri. A later put for the same key overwrites the previous raster.
	Put(ctx context.Context, tile common.TileRef, r io.Reader) (string, error)
	// Get returns the stored raster payload.
	// Raises ErrRasterNotFound
	Get(ctx context.Context, tile common.TileRef) (io.ReadCloser, error)
	// Exists returns whether a raster is already stored for the tile
	Exists(ctx context.Context, tile common.TileRef) (bool, error)
	// Delete removes the raster.
	// Raises ErrRasterNotFound
	Delete(ctx context.Context, tile common.TileRef) error
}

// rasterPath returns the key path of a tile: YEAR/MONTH/KEY.ndrs
func rasterPath(tile common.TileRef) string {
	info := tile.Info()
	return path.Join(info["YEAR"], info["MONTH"], info["KEY"]+"."+raster.FileExtension)
}

// NewStore creates the store for the given uri
// (gs://bucket/prefix or a local directory)
func NewStore(ctx context.Context, storageURI string) (Store, error) {
	u, err := neturl.Parse(storageURI)
	if err != nil {
		return nil, fmt.Errorf("NewStore.Parse: %w", err)
	}
	switch u.Scheme {
	case "gs":
		return NewGSStore(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	case "", "file":
		return NewLocalStore(path.Join(u.Host, u.Path)), nil
	}
	return nil, fmt.Errorf("NewStore: unsupported storage uri: %s", storageURI)
}
