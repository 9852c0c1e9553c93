// Package stac implements the tile catalog on a STAC search endpoint
// (SpatioTemporal Asset Catalog), such as the Microsoft Planetary Computer.
package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom/encoding/geojson"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/interface/catalog"
	"github.com/alfredoluis848/ndvi-ingester/service"
	"github.com/alfredoluis848/ndvi-ingester/service/geometry"
	"github.com/alfredoluis848/ndvi-ingester/service/log"
)

const (
	PlanetaryComputerURL = "https://planetarycomputer.microsoft.com/api/stac/v1/search"
	DefaultCollection    = "sentinel-2-l2a"
	DefaultRedAsset      = "B04"
	DefaultNIRAsset      = "B08"
	CatalogPageLimit     = 100

	nbRetries = 4
)

// Provider implements catalog.TileProvider on a STAC search endpoint
type Provider struct {
	URL        string
	Collection string
	// RedAsset/NIRAsset are the asset keys of the red and near-infrared bands
	RedAsset string
	NIRAsset string
	// Token is an optional bearer token
	Token string
	Limit int
	// NoRelax disables the search relaxation ladder applied when the initial
	// search returns no tile
	NoRelax bool
}

// Name implements catalog.TileProvider
func (p *Provider) Name() string {
	return "STAC (" + p.url() + ")"
}

func (p *Provider) url() string {
	if p.URL == "" {
		return PlanetaryComputerURL
	}
	return p.URL
}

func (p *Provider) collection() string {
	if p.Collection == "" {
		return DefaultCollection
	}
	return p.Collection
}

func (p *Provider) assetKeys() (string, string) {
	red, nir := p.RedAsset, p.NIRAsset
	if red == "" {
		red = DefaultRedAsset
	}
	if nir == "" {
		nir = DefaultNIRAsset
	}
	return red, nir
}

type stacSearch struct {
	Bbox        []float64              `json:"bbox,omitempty"`
	Datetime    string                 `json:"datetime,omitempty"`
	Collections []string               `json:"collections"`
	Query       map[string]interface{} `json:"query,omitempty"`
	SortBy      []stacSortBy           `json:"sortby,omitempty"`
	Limit       int                    `json:"limit,omitempty"`
}

type stacSortBy struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type searchData struct {
	Features       []feature `json:"features"`
	Links          []link    `json:"links"`
	NumberMatched  int       `json:"numberMatched"`
	NumberReturned int       `json:"numberReturned"`
}

type link struct {
	Body   map[string]interface{} `json:"body"`
	Href   string                 `json:"href"`
	Method string                 `json:"method"`
	Rel    string                 `json:"rel"`
}

type feature struct {
	Id          string                 `json:"id"`
	BoundingBox []float64              `json:"bbox"`
	Properties  map[string]interface{} `json:"properties"`
	Geometry    *geojson.Geometry      `json:"geometry"`
	Assets      map[string]asset       `json:"assets"`
}

type asset struct {
	Href     string `json:"href"`
	Title    string `json:"title"`
	Checksum string `json:"file:checksum"`
}

// searchStep is one entry of the relaxation ladder
type searchStep struct {
	cloud      float64
	start, end time.Time
}

// searchLadder returns the successively relaxed searches applied when the
// requested one comes back empty: raise the cloud ceiling, then widen the
// date range.
func searchLadder(area common.AreaOfInterest) []searchStep {
	steps := []searchStep{{area.MaxCloudCover, area.StartDate, area.EndDate}}
	for _, cloud := range []float64{30, 50} {
		if cloud > area.MaxCloudCover {
			steps = append(steps, searchStep{cloud, area.StartDate, area.EndDate})
		}
	}
	steps = append(steps,
		searchStep{max(50, area.MaxCloudCover), area.StartDate.AddDate(0, -6, 0), area.EndDate.AddDate(0, 6, 0)},
		searchStep{max(70, area.MaxCloudCover), area.StartDate.AddDate(-1, 0, 0), area.EndDate.AddDate(1, 0, 0)},
	)
	return steps
}

// SearchTiles implements catalog.TileProvider
func (p *Provider) SearchTiles(ctx context.Context, area common.AreaOfInterest) (catalog.Inventory, error) {
	if err := area.Validate(); err != nil {
		return nil, fmt.Errorf("SearchTiles(STAC): %w", err)
	}
	aoi, err := geos.FromWKT(area.BBox.WKT())
	if err != nil {
		return nil, fmt.Errorf("SearchTiles(STAC).FromWKT: %w", err)
	}

	steps := searchLadder(area)
	if p.NoRelax {
		steps = steps[:1]
	}
	for _, step := range steps {
		log.Logger(ctx).Sugar().Debugf("search %s: cloud<%g%% date=%s/%s", p.collection(), step.cloud,
			step.start.Format("2006-01-02"), step.end.Format("2006-01-02"))
		inv := &inventory{
			provider: p,
			aoi:      aoi,
			seen:     service.StringSet{},
			nextURL:  p.url(),
			nextBody: p.searchBody(area, step),
		}
		if err := inv.fetchPage(ctx); err != nil {
			return nil, err
		}
		if len(inv.buf) > 0 {
			log.Logger(ctx).Sugar().Debugf("%d tiles found", len(inv.buf))
			return inv, nil
		}
	}
	// a valid empty inventory: zero tiles, not an error
	return &inventory{provider: p, aoi: aoi, seen: service.StringSet{}, done: true}, nil
}

func (p *Provider) searchBody(area common.AreaOfInterest, step searchStep) map[string]interface{} {
	req := stacSearch{
		Bbox:        area.BBox[:],
		Datetime:    step.start.Format("2006-01-02") + "T00:00:00.000Z/" + step.end.Format("2006-01-02") + "T23:59:59.999Z",
		Collections: []string{p.collection()},
		Query:       map[string]interface{}{"eo:cloud_cover": map[string]float64{"lt": step.cloud}},
		SortBy: []stacSortBy{
			{Field: "properties.datetime", Direction: "asc"},
			{Field: "id", Direction: "asc"},
		},
		Limit: p.limit(),
	}
	// round-trip through json to get the generic body used for next links
	body := map[string]interface{}{}
	b, _ := json.Marshal(req)
	json.Unmarshal(b, &body)
	return body
}

func (p *Provider) limit() int {
	if p.Limit == 0 {
		return CatalogPageLimit
	}
	return p.Limit
}

// inventory implements catalog.Inventory, fetching the search pages lazily
type inventory struct {
	provider *Provider
	aoi      *geos.Geometry
	seen     service.StringSet

	buf  []common.TileRef
	idx  int
	done bool

	nextURL  string
	nextBody map[string]interface{}
}

// Next implements catalog.Inventory
func (inv *inventory) Next(ctx context.Context) (common.TileRef, bool, error) {
	for inv.idx >= len(inv.buf) {
		if inv.done {
			return common.TileRef{}, false, nil
		}
		if err := inv.fetchPage(ctx); err != nil {
			return common.TileRef{}, false, err
		}
	}
	tile := inv.buf[inv.idx]
	inv.idx++
	return tile, true, nil
}

// fetchPage queries the next page of the search and appends its tiles to the
// buffer
func (inv *inventory) fetchPage(ctx context.Context) error {
	p := inv.provider

	reqBody := &bytes.Buffer{}
	if inv.nextBody != nil {
		if err := json.NewEncoder(reqBody).Encode(inv.nextBody); err != nil {
			return fmt.Errorf("queryStac.Encode: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, "POST", inv.nextURL, reqBody)
	if err != nil {
		return fmt.Errorf("queryStac.NewRequest: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Add("Authorization", "Bearer "+p.Token)
	}

	respBody, err := service.GetBodyRetryReq(req, nbRetries)
	if err != nil {
		return catalog.ErrCatalogUnavailable{Catalog: p.Name(), Err: err}
	}

	search := &searchData{}
	if err := json.Unmarshal(respBody, search); err != nil {
		return catalog.ErrCatalogUnavailable{Catalog: p.Name(), Err: fmt.Errorf("parse body: %w", err)}
	}

	tiles, err := inv.parseFeatures(ctx, search.Features)
	if err != nil {
		return err
	}
	inv.buf = append(inv.buf, tiles...)

	inv.nextURL, inv.nextBody, inv.done = "", nil, true
	for _, l := range search.Links {
		if l.Rel == "next" {
			inv.nextURL = l.Href
			inv.nextBody = l.Body
			inv.done = false
		}
	}
	return nil
}

// parseFeatures maps the page features to tiles, dropping duplicates and
// footprints that do not cover the area of interest. The page is sorted by
// (date, id): combined with the server-side sort of the search, the whole
// sequence is ordered.
func (inv *inventory) parseFeatures(ctx context.Context, features []feature) ([]common.TileRef, error) {
	red, nir := inv.provider.assetKeys()
	var tiles []common.TileRef
	byID := map[string]int{}
	for _, f := range features {
		if f.Id == "" {
			continue
		}
		if _, dup := byID[f.Id]; !dup && inv.seen.Exists(f.Id) {
			continue
		}

		dateStr, _ := f.Properties["datetime"].(string)
		date, err := dateparse.ParseAny(dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse datetime %q of %s: %w", dateStr, f.Id, err)
		}

		wkt, err := footprintWKT(f)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("skip %s: %v", f.Id, err)
			continue
		}
		if ok, err := geometry.IntersectsWKT(inv.aoi, wkt); err != nil {
			return nil, fmt.Errorf("footprint of %s: %w", f.Id, err)
		} else if !ok {
			continue
		}

		cloud, _ := f.Properties["eo:cloud_cover"].(float64)
		tile := common.TileRef{
			SourceID:    f.Id,
			Date:        date.UTC(),
			GeometryWKT: wkt,
			CloudCover:  cloud,
			Assets:      map[string]common.Asset{},
		}
		if a, ok := f.Assets[red]; ok {
			tile.Assets[common.AssetRed] = common.Asset{Href: a.Href, SHA256: checksumSHA256(a.Checksum)}
		}
		if a, ok := f.Assets[nir]; ok {
			tile.Assets[common.AssetNIR] = common.Asset{Href: a.Href, SHA256: checksumSHA256(a.Checksum)}
		}

		// duplicate ids within a page: keep the least cloudy
		if i, dup := byID[f.Id]; dup {
			if tile.CloudCover < tiles[i].CloudCover {
				tiles[i] = tile
			}
			continue
		}
		inv.seen.Push(f.Id)
		byID[f.Id] = len(tiles)
		tiles = append(tiles, tile)
	}
	sort.Slice(tiles, func(i, j int) bool {
		if !tiles[i].Date.Equal(tiles[j].Date) {
			return tiles[i].Date.Before(tiles[j].Date)
		}
		return tiles[i].SourceID < tiles[j].SourceID
	})
	return tiles, nil
}

// footprintWKT returns the WKT of the feature geometry, falling back to its
// bbox
func footprintWKT(f feature) (string, error) {
	if f.Geometry != nil && f.Geometry.Geometry != nil {
		return geomwkt.EncodeString(f.Geometry.Geometry)
	}
	if len(f.BoundingBox) == 4 {
		return common.BBox{f.BoundingBox[0], f.BoundingBox[1], f.BoundingBox[2], f.BoundingBox[3]}.WKT(), nil
	}
	return "", fmt.Errorf("no geometry")
}

// checksumSHA256 extracts the hex sha256 from a STAC file:checksum multihash
// (prefix 0x1220), or returns a plain hex digest unchanged
func checksumSHA256(checksum string) string {
	if strings.HasPrefix(checksum, "1220") && len(checksum) == 68 {
		return checksum[4:]
	}
	if len(checksum) == 64 {
		return checksum
	}
	return ""
}
