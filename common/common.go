package common

import (
	"fmt"
	"time"
)

// Asset keys of a TileRef
const (
	AssetRed = "red"
	AssetNIR = "nir"
)

// BBox is a geographic bounding box in WGS84 ([minLon, minLat, maxLon, maxLat])
type BBox [4]float64

func (b BBox) MinLon() float64 { return b[0] }
func (b BBox) MinLat() float64 { return b[1] }
func (b BBox) MaxLon() float64 { return b[2] }
func (b BBox) MaxLat() float64 { return b[3] }

// WKT returns the bbox as a WKT polygon
func (b BBox) WKT() string {
	return fmt.Sprintf("POLYGON((%g %g,%g %g,%g %g,%g %g,%g %g))",
		b[0], b[1], b[2], b[1], b[2], b[3], b[0], b[3], b[0], b[1])
}

// Validate checks min<=max on both axes and the WGS84 bounds
func (b BBox) Validate() error {
	if b[0] > b[2] || b[1] > b[3] {
		return fmt.Errorf("bbox: min > max: %v", b)
	}
	if b[0] < -180 || b[2] > 180 || b[1] < -90 || b[3] > 90 {
		return fmt.Errorf("bbox: out of WGS84 bounds: %v", b)
	}
	return nil
}

// AreaOfInterest is the caller-supplied query region. It is never persisted.
type AreaOfInterest struct {
	Name      string    `json:"name"`
	BBox      BBox      `json:"bbox"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	// MaxCloudCover is the eo:cloud_cover upper bound in percent
	MaxCloudCover float64 `json:"max_cloud_cover"`
}

// Validate implements the AreaOfInterest invariants
func (a AreaOfInterest) Validate() error {
	if err := a.BBox.Validate(); err != nil {
		return err
	}
	if a.StartDate.After(a.EndDate) {
		return fmt.Errorf("area %s: start date %s after end date %s", a.Name, a.StartDate.Format("2006-01-02"), a.EndDate.Format("2006-01-02"))
	}
	if a.MaxCloudCover < 0 || a.MaxCloudCover > 100 {
		return fmt.Errorf("area %s: max cloud cover must be within [0, 100]: %g", a.Name, a.MaxCloudCover)
	}
	return nil
}

// Asset is a downloadable band artefact of a tile
type Asset struct {
	Href string `json:"href"`
	// SHA256 is the hex-encoded checksum of the artefact ("" if the catalog does not publish one)
	SHA256 string `json:"sha256,omitempty"`
}

// TileRef addresses one imagery tile in the upstream catalog.
// Immutable once discovered.
type TileRef struct {
	SourceID    string           `json:"source_id"`
	Date        time.Time        `json:"date"`
	GeometryWKT string           `json:"geometry_wkt,omitempty"`
	CloudCover  float64          `json:"cloud_cover"`
	Assets      map[string]Asset `json:"assets"`
}

// Key returns the storage key of the tile: sourceID + acquisition date
func (t TileRef) Key() string {
	return fmt.Sprintf("%s_%s", t.Date.Format("20060102"), t.SourceID)
}

// BandData holds the red/near-infrared grids of one tile.
// Transient: it only exists between fetch and compute.
type BandData struct {
	Width, Height int
	Red, NIR      []float32
	// Mask is true where the pixel has no valid sensor reading
	Mask []bool
}

// Validate checks that the grids are consistent
func (b BandData) Validate() error {
	n := b.Width * b.Height
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("banddata: invalid dimensions %dx%d", b.Width, b.Height)
	}
	if len(b.Red) != n || len(b.NIR) != n || len(b.Mask) != n {
		return fmt.Errorf("banddata: grid sizes red=%d nir=%d mask=%d do not match %dx%d", len(b.Red), len(b.NIR), len(b.Mask), b.Width, b.Height)
	}
	return nil
}

// NdviRaster is the computed index of one tile, the sole durable output
// of the pipeline. Values lie in [-1, 1] or equal Nodata.
type NdviRaster struct {
	Width, Height int
	Pixels        []float32
	// Nodata is the sentinel value of masked pixels
	Nodata float32
	// Clamped counts values that were outside [-1, 1] before clamping
	Clamped int
}

// TileFailure records one failed tile and the kind of its error
type TileFailure struct {
	SourceID string    `json:"source_id"`
	Date     time.Time `json:"date"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message,omitempty"`
}

// RunReport is the single source of truth for partial failure of a run.
// Created per invocation, discarded once surfaced to the caller.
type RunReport struct {
	RunID     string        `json:"run_id"`
	State     RunState      `json:"state"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Failures  []TileFailure `json:"failures,omitempty"`
	Seconds   float64       `json:"seconds"`
}

// Result is the event published for each processed tile
type Result struct {
	RunID    string    `json:"run_id"`
	SourceID string    `json:"source_id"`
	Date     time.Time `json:"date"`
	Status   Status    `json:"status"`
	Message  string    `json:"message,omitempty"`
}
