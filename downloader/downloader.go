// Package downloader fetches the band rasters of a tile and loads them in
// memory, trying each band provider in turn and retrying transient failures.
package downloader

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/interface/provider"
	"github.com/alfredoluis848/ndvi-ingester/service"
	"github.com/alfredoluis848/ndvi-ingester/service/log"
	"github.com/alfredoluis848/ndvi-ingester/service/raster"
)

const (
	// DefaultRetries bounds the attempts on a transient download failure
	DefaultRetries = 5
)

var retryDelay = time.Second

// ErrCorrupt is returned when a downloaded band fails its checksum or decodes
// to inconsistent grids. It is terminal: retrying will fetch the same bytes.
type ErrCorrupt struct {
	Tile   string
	Reason string
}

func (e ErrCorrupt) Error() string {
	return fmt.Sprintf("corrupt tile %s: %s", e.Tile, e.Reason)
}

// FetchTile downloads the red and near-infrared bands of the tile with the
// first successful bandProvider, checks them against the tile checksums and
// decodes them into grids. The scratch files are removed before returning.
func FetchTile(ctx context.Context, bandProviders []provider.BandProvider, tile common.TileRef, workdir string, nbRetries int) (common.BandData, error) {
	// Working dir
	workdir = filepath.Join(workdir, uuid.New().String())

	if err := os.MkdirAll(workdir, 0766); err != nil {
		return common.BandData{}, service.MakeTemporary(fmt.Errorf("make directory %s: %w", workdir, err))
	}
	defer os.RemoveAll(workdir)

	// Download with the first successful bandProvider
	log.Logger(ctx).Sugar().Infof("downloading %s", tile.SourceID)
	var err error
	for _, bandProvider := range bandProviders {
		e := service.Retriable(ctx, func() error {
			return bandProvider.Download(ctx, tile, workdir)
		}, retryDelay, nbRetries)
		if err = service.MergeErrors(false, err, e); err == nil {
			break
		}
		log.Logger(ctx).Sugar().Warnf("%v", e)
	}
	if err != nil {
		return common.BandData{}, fmt.Errorf("FetchTile.BandProviders.%w", err)
	}

	red, err := loadBand(tile, common.AssetRed, workdir)
	if err != nil {
		return common.BandData{}, err
	}
	nir, err := loadBand(tile, common.AssetNIR, workdir)
	if err != nil {
		return common.BandData{}, err
	}
	if red.Width != nir.Width || red.Height != nir.Height {
		return common.BandData{}, ErrCorrupt{tile.SourceID,
			fmt.Sprintf("band dimensions differ: red %dx%d, nir %dx%d", red.Width, red.Height, nir.Width, nir.Height)}
	}

	data := common.BandData{
		Width:  red.Width,
		Height: red.Height,
		Red:    red.Pixels,
		NIR:    nir.Pixels,
		Mask:   make([]bool, red.Width*red.Height),
	}
	for i := range data.Mask {
		data.Mask[i] = isNodata(red.Pixels[i], red.Nodata) || isNodata(nir.Pixels[i], nir.Nodata)
	}
	return data, nil
}

func isNodata(pix, nodata float32) bool {
	if math.IsNaN(float64(nodata)) {
		return math.IsNaN(float64(pix))
	}
	return pix == nodata
}

// loadBand checks the checksum of the band file, if the tile carries one, and
// decodes it
func loadBand(tile common.TileRef, band, workdir string) (*raster.Raster, error) {
	path := provider.BandFilePath(workdir, tile, band)

	if asset, ok := tile.Assets[band]; ok && asset.SHA256 != "" {
		sum, err := fileSHA256(path)
		if err != nil {
			return nil, fmt.Errorf("loadBand[%s/%s]: %w", tile.Key(), band, err)
		}
		if sum != asset.SHA256 {
			return nil, ErrCorrupt{tile.SourceID, fmt.Sprintf("%s: checksum mismatch (%s != %s)", band, sum, asset.SHA256)}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loadBand[%s/%s]: %w", tile.Key(), band, err)
	}
	defer f.Close()
	r, err := raster.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("loadBand[%s/%s]: %w", tile.Key(), band, err)
	}
	return r, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
