package catalog

import (
	"context"
	"fmt"

	"github.com/alfredoluis848/ndvi-ingester/common"
)

// ErrCatalogUnavailable is returned when the remote catalog cannot be
// reached after its retries are exhausted. It aborts the whole run: without
// a tile inventory there is nothing to process.
type ErrCatalogUnavailable struct {
	Catalog string
	Err     error
}

func (e ErrCatalogUnavailable) Error() string {
	return fmt.Sprintf("catalog %s unavailable: %v", e.Catalog, e.Err)
}

func (e ErrCatalogUnavailable) Unwrap() error { return e.Err }

// Inventory is a lazy, finite, restartable sequence of tiles covering an
// area of interest, ordered by ascending acquisition date then by tile
// identifier, without duplicates.
type Inventory interface {
	// Next returns the next tile of the sequence, or ok=false once
	// exhausted. An empty inventory is valid: it reports zero tiles, not an
	// error.
	Next(ctx context.Context) (tile common.TileRef, ok bool, err error)
}

// TileProvider resolves an area of interest into a tile inventory
type TileProvider interface {
	SearchTiles(ctx context.Context, area common.AreaOfInterest) (Inventory, error)

	// Name of the catalog
	Name() string
}
