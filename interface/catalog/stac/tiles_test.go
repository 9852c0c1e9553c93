package stac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/interface/catalog"
)

var checksumAB = "1220" + strings.Repeat("ab", 32)

func testArea() common.AreaOfInterest {
	return common.AreaOfInterest{
		Name:          "test",
		BBox:          common.BBox{0, 0, 10, 10},
		StartDate:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		MaxCloudCover: 20,
	}
}

func stacFeature(id, date string, bbox [4]float64) map[string]interface{} {
	return map[string]interface{}{
		"id":         id,
		"bbox":       bbox[:],
		"properties": map[string]interface{}{"datetime": date, "eo:cloud_cover": 12.5},
		"assets": map[string]interface{}{
			"B04": map[string]string{"href": "https://assets/" + id + "/B04.tif", "file:checksum": checksumAB},
			"B08": map[string]string{"href": "https://assets/" + id + "/B08.tif"},
		},
	}
}

func writePage(w http.ResponseWriter, features []map[string]interface{}, nextURL string, nextBody map[string]interface{}) {
	page := map[string]interface{}{"features": features}
	if nextBody != nil {
		page["links"] = []map[string]interface{}{{"rel": "next", "href": nextURL, "method": "POST", "body": nextBody}}
	}
	json.NewEncoder(w).Encode(page)
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return body
}

func drain(t *testing.T, inv catalog.Inventory) []common.TileRef {
	t.Helper()
	var tiles []common.TileRef
	for {
		tile, ok, err := inv.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return tiles
		}
		tiles = append(tiles, tile)
	}
}

func TestSearchTilesPagination(t *testing.T) {
	var requests int
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		body := decodeBody(t, r)
		if body["page"] == 2.0 {
			// a duplicate, a disjoint footprint and a new tile
			writePage(w, []map[string]interface{}{
				stacFeature("S2B_T31_B", "2024-06-02T10:00:00Z", [4]float64{1, 1, 3, 3}),
				stacFeature("S2A_T31_FAR", "2024-06-03T10:00:00Z", [4]float64{20, 20, 30, 30}),
				stacFeature("S2A_T31_C", "2024-06-03T10:00:00Z", [4]float64{1, 1, 3, 3}),
			}, "", nil)
			return
		}
		// out of order within the page, plus an edge-touching footprint
		writePage(w, []map[string]interface{}{
			stacFeature("S2B_T31_B", "2024-06-02T10:00:00Z", [4]float64{1, 1, 3, 3}),
			stacFeature("S2A_T31_A", "2024-06-01T10:00:00Z", [4]float64{1, 1, 3, 3}),
			stacFeature("S2A_T31_EDGE", "2024-06-01T10:00:00Z", [4]float64{10, 0, 20, 10}),
		}, server.URL, map[string]interface{}{"page": 2})
	}))
	defer server.Close()

	p := &Provider{URL: server.URL}
	inv, err := p.SearchTiles(context.Background(), testArea())
	if err != nil {
		t.Fatalf("SearchTiles: %v", err)
	}
	if requests != 1 {
		t.Fatalf("expected the next pages to be fetched lazily, got %d requests", requests)
	}

	tiles := drain(t, inv)
	if requests != 2 {
		t.Errorf("expected 2 requests, got %d", requests)
	}
	var ids []string
	for _, tile := range tiles {
		ids = append(ids, tile.SourceID)
	}
	if got, want := strings.Join(ids, ","), "S2A_T31_A,S2B_T31_B,S2A_T31_C"; got != want {
		t.Fatalf("tiles=%s, want %s", got, want)
	}

	a := tiles[0]
	if !a.Date.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("date=%s", a.Date)
	}
	if a.CloudCover != 12.5 {
		t.Errorf("cloudCover=%g", a.CloudCover)
	}
	if got, want := a.Assets[common.AssetRed].SHA256, strings.Repeat("ab", 32); got != want {
		t.Errorf("red sha256=%q, want %q", got, want)
	}
	if got := a.Assets[common.AssetNIR].SHA256; got != "" {
		t.Errorf("nir sha256=%q, want none", got)
	}
	if !strings.HasSuffix(a.Assets[common.AssetNIR].Href, "/B08.tif") {
		t.Errorf("nir href=%q", a.Assets[common.AssetNIR].Href)
	}
}

func TestSearchTilesDuplicateKeepsLeastCloudy(t *testing.T) {
	cloudy := stacFeature("S2A_T31_A", "2024-06-01T10:00:00Z", [4]float64{1, 1, 3, 3})
	cloudy["properties"].(map[string]interface{})["eo:cloud_cover"] = 18.0
	clear := stacFeature("S2A_T31_A", "2024-06-01T10:00:00Z", [4]float64{1, 1, 3, 3})
	clear["properties"].(map[string]interface{})["eo:cloud_cover"] = 5.0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, []map[string]interface{}{cloudy, clear}, "", nil)
	}))
	defer server.Close()

	p := &Provider{URL: server.URL}
	inv, err := p.SearchTiles(context.Background(), testArea())
	if err != nil {
		t.Fatalf("SearchTiles: %v", err)
	}
	tiles := drain(t, inv)
	if len(tiles) != 1 {
		t.Fatalf("got %d tiles, want 1", len(tiles))
	}
	if tiles[0].CloudCover != 5.0 {
		t.Errorf("cloudCover=%g, want the least cloudy duplicate", tiles[0].CloudCover)
	}
}

func TestSearchTilesRelaxation(t *testing.T) {
	var clouds []float64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		cloud := body["query"].(map[string]interface{})["eo:cloud_cover"].(map[string]interface{})["lt"].(float64)
		clouds = append(clouds, cloud)
		if cloud < 30 {
			writePage(w, nil, "", nil)
			return
		}
		writePage(w, []map[string]interface{}{
			stacFeature("S2A_T31_A", "2024-06-01T10:00:00Z", [4]float64{1, 1, 3, 3}),
		}, "", nil)
	}))
	defer server.Close()

	p := &Provider{URL: server.URL}
	inv, err := p.SearchTiles(context.Background(), testArea())
	if err != nil {
		t.Fatalf("SearchTiles: %v", err)
	}
	if len(clouds) != 2 || clouds[0] != 20 || clouds[1] != 30 {
		t.Fatalf("cloud ceilings=%v, want [20 30]", clouds)
	}
	if tiles := drain(t, inv); len(tiles) != 1 {
		t.Fatalf("got %d tiles, want 1", len(tiles))
	}
}

func TestSearchTilesNoRelax(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		writePage(w, nil, "", nil)
	}))
	defer server.Close()

	p := &Provider{URL: server.URL, NoRelax: true}
	inv, err := p.SearchTiles(context.Background(), testArea())
	if err != nil {
		t.Fatalf("SearchTiles: %v", err)
	}
	if requests != 1 {
		t.Fatalf("got %d requests, want 1", requests)
	}
	if tiles := drain(t, inv); tiles != nil {
		t.Fatalf("got %d tiles, want none", len(tiles))
	}
}

func TestSearchTilesUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", 400)
	}))
	defer server.Close()

	p := &Provider{URL: server.URL}
	_, err := p.SearchTiles(context.Background(), testArea())
	var unavailable catalog.ErrCatalogUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
}
