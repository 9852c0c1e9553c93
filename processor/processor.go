// Package processor computes the normalized difference vegetation index
// (NDVI) of a tile and persists the resulting raster.
package processor

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/interface/storage"
	"github.com/alfredoluis848/ndvi-ingester/service/log"
	"github.com/alfredoluis848/ndvi-ingester/service/raster"
)

// Nodata is the sentinel written for pixels without a valid index
const Nodata float32 = -9999

// Compute returns the NDVI grid of the bands: (nir-red)/(nir+red), clamped to
// [-1, 1]. Masked pixels and pixels whose band sum is zero map to Nodata.
// The computation is deterministic: identical bands yield identical grids.
func Compute(bands common.BandData) (common.NdviRaster, error) {
	if err := bands.Validate(); err != nil {
		return common.NdviRaster{}, err
	}

	out := common.NdviRaster{
		Width:  bands.Width,
		Height: bands.Height,
		Nodata: Nodata,
		Pixels: make([]float32, len(bands.Red)),
	}
	for i := range out.Pixels {
		if bands.Mask[i] {
			out.Pixels[i] = Nodata
			continue
		}
		// float64 arithmetic: (0.6-0.2)/(0.6+0.2) must round to exactly 0.5
		red, nir := float64(bands.Red[i]), float64(bands.NIR[i])
		sum := nir + red
		if sum == 0 {
			out.Pixels[i] = Nodata
			continue
		}
		ndvi := float32((nir - red) / sum)
		if ndvi > 1 {
			ndvi = 1
			out.Clamped++
		} else if ndvi < -1 {
			ndvi = -1
			out.Clamped++
		}
		out.Pixels[i] = ndvi
	}
	return out, nil
}

// ProcessTile computes the index of the fetched bands and stores the raster.
// It returns the uri of the stored artefact.
func ProcessTile(ctx context.Context, store storage.Store, tile common.TileRef, bands common.BandData) (string, error) {
	ndvi, err := Compute(bands)
	if err != nil {
		return "", fmt.Errorf("ProcessTile[%s].%w", tile.Key(), err)
	}
	if ndvi.Clamped > 0 {
		log.Logger(ctx).Sugar().Warnf("%s: %d values clamped to [-1, 1]", tile.Key(), ndvi.Clamped)
	}

	buf := &bytes.Buffer{}
	err = raster.Encode(buf, &raster.Raster{
		Width:  ndvi.Width,
		Height: ndvi.Height,
		Nodata: ndvi.Nodata,
		Pixels: ndvi.Pixels,
		Meta: map[string]string{
			"index":       "ndvi",
			"tile":        tile.SourceID,
			"date":        tile.Date.Format("2006-01-02"),
			"cloud_cover": fmt.Sprintf("%g", tile.CloudCover),
			"clamped":     strconv.Itoa(ndvi.Clamped),
		},
	})
	if err != nil {
		return "", fmt.Errorf("ProcessTile[%s].%w", tile.Key(), err)
	}

	uri, err := store.Put(ctx, tile, buf)
	if err != nil {
		return "", fmt.Errorf("ProcessTile[%s].%w", tile.Key(), err)
	}
	return uri, nil
}
