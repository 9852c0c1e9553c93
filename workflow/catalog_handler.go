package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/service"
	"github.com/alfredoluis848/ndvi-ingester/service/log"
)

const areaJSONField = "area"

func (wf *Workflow) CatalogHandler(r *mux.Router) {
	r.HandleFunc("/catalog/tiles", wf.CatalogTilesHandler).Methods("GET")
}

func readField(req *http.Request, field string) ([]byte, error) {
	if req.FormValue(field) != "" {
		return []byte(req.FormValue(field)), nil
	}
	file, _, err := req.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var buf bytes.Buffer
	io.Copy(&buf, file)
	return buf.Bytes(), nil
}

func loadArea(w http.ResponseWriter, req *http.Request) (common.AreaOfInterest, error) {
	area := common.AreaOfInterest{}
	areaJSON, err := readField(req, areaJSONField)
	if err != nil || len(areaJSON) == 0 {
		w.WriteHeader(400)
		if err == nil {
			err = fmt.Errorf("missing required field: '%s' (application/json)", areaJSONField)
		}
		fmt.Fprintf(w, "%v", err)
		return area, err
	}
	if err := json.Unmarshal(areaJSON, &area); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v\nJSON:\n%s", err, areaJSON)
		return area, err
	}
	if err := area.Validate(); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return area, err
	}
	return area, nil
}

// locateTiles resolves the area with the first successful catalog and drains
// the inventory
func (wf *Workflow) locateTiles(ctx context.Context, area common.AreaOfInterest) ([]common.TileRef, error) {
	var err error
	for _, cat := range wf.catalogs {
		inv, e := cat.SearchTiles(ctx, area)
		if err = service.MergeErrors(false, err, e); err != nil {
			continue
		}
		var tiles []common.TileRef
		for {
			tile, ok, e := inv.Next(ctx)
			if e != nil {
				return nil, fmt.Errorf("locateTiles.%w", e)
			}
			if !ok {
				return tiles, nil
			}
			tiles = append(tiles, tile)
		}
	}
	return nil, fmt.Errorf("locateTiles.%w", err)
}

// CatalogTilesHandler lists the tiles covering a given area of interest
// without starting a run
func (wf *Workflow) CatalogTilesHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	area, err := loadArea(w, req)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.CatalogTilesHandler: %v", err)
		return
	}

	tiles, err := wf.locateTiles(ctx, area)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.CatalogTilesHandler.%v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}

	json.NewEncoder(w).Encode(tiles)
}
