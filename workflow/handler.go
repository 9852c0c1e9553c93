package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/alfredoluis848/ndvi-ingester/common"
	db "github.com/alfredoluis848/ndvi-ingester/interface/database"
	"github.com/alfredoluis848/ndvi-ingester/interface/storage"
	"github.com/alfredoluis848/ndvi-ingester/service/log"
)

func (wf *Workflow) NewHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/aoi", wf.StartRunHandler).Methods("POST")
	r.HandleFunc("/runs", wf.ListRunsHandler).Methods("GET")
	r.HandleFunc("/run/{run}", wf.GetRunHandler).Methods("GET")
	r.HandleFunc("/run/{run}/report", wf.GetReportHandler).Methods("GET")
	r.HandleFunc("/run/{run}/tiles", wf.ListTilesHandler).Methods("GET")
	r.HandleFunc("/run/{run}/tiles/{status}", wf.ListTilesHandler).Methods("GET")
	r.HandleFunc("/run/{run}/cancel", wf.CancelRunHandler).Methods("PUT")
	r.HandleFunc("/raster/{tile}/{date}", wf.GetRasterHandler).Methods("GET")
	wf.CatalogHandler(r)
	return r
}

// runRegistry tracks the cancel functions of the runs in flight
type runRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (r *runRegistry) add(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancels == nil {
		r.cancels = map[string]context.CancelFunc{}
	}
	r.cancels[id] = cancel
}

func (r *runRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
}

func (r *runRegistry) cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[id]
	if ok {
		cancel()
	}
	return ok
}

// StartRun starts the processing of the area in the background and returns
// the id of the new run
func (wf *Workflow) StartRun(ctx context.Context, area common.AreaOfInterest) string {
	runID := uuid.New().String()

	// the run outlives the request
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	wf.runs.add(runID, cancel)
	go func() {
		defer wf.runs.remove(runID)
		defer cancel()
		if _, err := wf.Process(rctx, runID, area); err != nil {
			log.Logger(rctx).Sugar().Errorf("run %s: %v", runID, err)
		}
	}()
	return runID
}

// StartRunHandler starts a run over the posted area of interest
func (wf *Workflow) StartRunHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	area := common.AreaOfInterest{}
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&area); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	if err := area.Validate(); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	runID := wf.StartRun(ctx, area)
	w.WriteHeader(202)
	fmt.Fprintf(w, "{\"run\":%q}", runID)
}

// GetRunHandler retrieves a run
func (wf *Workflow) GetRunHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	run, err := wf.Run(ctx, mux.Vars(req)["run"])
	if errors.As(err, &db.ErrNotFound{}) {
		w.WriteHeader(404)
		return
	}
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.run: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	json.NewEncoder(w).Encode(run)
}

// GetReportHandler returns the report of a finished run (204 while running)
func (wf *Workflow) GetReportHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	run, err := wf.Run(ctx, mux.Vars(req)["run"])
	if errors.As(err, &db.ErrNotFound{}) {
		w.WriteHeader(404)
		return
	}
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.run: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	if run.Report == nil {
		w.WriteHeader(204)
		return
	}
	json.NewEncoder(w).Encode(run.Report)
}

// ListRunsHandler lists the runs, optionally filtered by the aoi query
// parameter (wildcards allowed)
func (wf *Workflow) ListRunsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	runs, err := wf.Runs(ctx, req.FormValue("aoi"), 0, 0)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.runs: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	json.NewEncoder(w).Encode(runs)
}

// ListTilesHandler lists the tiles of the run
// If status is provided, filter only the tiles with the given status
func (wf *Workflow) ListTilesHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	status := ""
	if v := mux.Vars(req)["status"]; v != "" {
		// canonicalize: the backends filter on the exact status name
		s, err := common.StatusString(strings.ToUpper(v))
		if err != nil {
			w.WriteHeader(400)
			fmt.Fprintf(w, "%v", err)
			return
		}
		status = s.String()
	}
	tiles, err := wf.Tiles(ctx, mux.Vars(req)["run"], status, 0, 0)
	if errors.As(err, &db.ErrNotFound{}) {
		w.WriteHeader(404)
		return
	}
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.tiles: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	json.NewEncoder(w).Encode(tiles)
}

// CancelRunHandler signals the cancellation of a run in flight. The in-flight
// tiles abort at their next checkpoint and the stored rasters remain.
func (wf *Workflow) CancelRunHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	runID := mux.Vars(req)["run"]
	if wf.runs.cancel(runID) {
		w.WriteHeader(202)
		return
	}
	// not in flight: 404 if unknown, 409 if already terminal
	_, err := wf.Run(ctx, runID)
	if errors.As(err, &db.ErrNotFound{}) {
		w.WriteHeader(404)
		return
	}
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.run: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(409)
}

// GetRasterHandler streams the stored raster of a tile
func (wf *Workflow) GetRasterHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	date, err := dateparse.ParseAny(mux.Vars(req)["date"])
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	tile := common.TileRef{SourceID: mux.Vars(req)["tile"], Date: date}

	r, err := wf.store.Get(ctx, tile)
	if err != nil {
		var notFound storage.ErrRasterNotFound
		if errors.As(err, &notFound) {
			w.WriteHeader(404)
			return
		}
		log.Logger(ctx).Sugar().Warnf("wf.GetRasterHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	defer r.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, r); err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.GetRasterHandler.Copy: %v", err)
	}
}
