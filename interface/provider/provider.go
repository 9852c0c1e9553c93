package provider

import (
	"context"
	"fmt"
	"path"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/service/raster"
)

// BandProvider is the interface of a band download service
type BandProvider interface {
	// Download the red and near-infrared band rasters of the tile to the
	// given localDir, as BandFilePath(localDir, tile, band) files
	Download(ctx context.Context, tile common.TileRef, localDir string) error

	// Name of the provider
	Name() string
}

// ErrTileNotFound is an error returned when a tile is not found or available
type ErrTileNotFound struct {
	Tile string
}

func (e ErrTileNotFound) Error() string {
	return fmt.Sprintf("tile not found or unavailable: %s", e.Tile)
}

// BandFilePath returns the path of a band raster, given the directory, the
// tile and the band (common.AssetRed or common.AssetNIR)
func BandFilePath(dir string, tile common.TileRef, band string) string {
	return path.Join(dir, tile.Key()+"_"+band+"."+raster.FileExtension)
}
