// Package workflow orchestrates a pipeline run: locate the tiles of an area
// of interest, fetch and compute each tile with a bounded worker pool, store
// the rasters and account for every tile in the run report.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/downloader"
	"github.com/alfredoluis848/ndvi-ingester/interface/catalog"
	db "github.com/alfredoluis848/ndvi-ingester/interface/database"
	"github.com/alfredoluis848/ndvi-ingester/interface/messaging"
	"github.com/alfredoluis848/ndvi-ingester/interface/provider"
	"github.com/alfredoluis848/ndvi-ingester/interface/storage"
	"github.com/alfredoluis848/ndvi-ingester/processor"
	"github.com/alfredoluis848/ndvi-ingester/service"
	"github.com/alfredoluis848/ndvi-ingester/service/log"
	"github.com/alfredoluis848/ndvi-ingester/service/raster"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWorkers processing tiles in parallel, kept small to respect
	// upstream rate limits
	DefaultWorkers = 4

	// DefaultTileTimeout bounds fetch+compute+store of one tile
	DefaultTileTimeout = 15 * time.Minute
)

type Workflow struct {
	db.RunBackend

	catalogs  []catalog.TileProvider
	providers []provider.BandProvider
	store     storage.Store
	// events is optional: per-tile results are published to it when set
	events messaging.Publisher

	NbWorkers   int
	NbRetries   int
	TileTimeout time.Duration
	Workdir     string

	runs runRegistry
}

func NewWorkflow(backend db.RunBackend, catalogs []catalog.TileProvider, providers []provider.BandProvider, store storage.Store, events messaging.Publisher) *Workflow {
	return &Workflow{
		RunBackend:  backend,
		catalogs:    catalogs,
		providers:   providers,
		store:       store,
		events:      events,
		NbWorkers:   DefaultWorkers,
		NbRetries:   downloader.DefaultRetries,
		TileTimeout: DefaultTileTimeout,
	}
}

// reportAccumulator collects the per-tile outcomes of a run. Append-only,
// synchronized: it is the only state shared between the workers.
type reportAccumulator struct {
	mu     sync.Mutex
	report common.RunReport
}

func (a *reportAccumulator) succeed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.Attempted++
	a.report.Succeeded++
}

func (a *reportAccumulator) skip() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.Skipped++
}

func (a *reportAccumulator) fail(tile common.TileRef, kind common.ErrorKind, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.Attempted++
	a.report.Failed++
	a.report.Failures = append(a.report.Failures, common.TileFailure{
		SourceID: tile.SourceID,
		Date:     tile.Date,
		Kind:     kind,
		Message:  err.Error(),
	})
}

// Process executes one run over the area, blocking until its terminal state.
// Per-tile failures are recorded in the report and never abort the run; a
// catalog failure fails the run as a whole. On cancellation the in-flight
// tiles abort, the stored rasters remain and the run ends Cancelled.
func (wf *Workflow) Process(ctx context.Context, runID string, area common.AreaOfInterest) (common.RunReport, error) {
	start := time.Now()
	report := common.RunReport{RunID: runID, State: common.RunFailed}

	if err := area.Validate(); err != nil {
		return report, fmt.Errorf("Process: %w", err)
	}
	if err := wf.CreateRun(ctx, db.Run{ID: runID, AOI: area, State: common.RunPending}); err != nil {
		return report, fmt.Errorf("Process.%w", err)
	}

	report, err := wf.process(ctx, runID, area)
	report.RunID = runID
	report.Seconds = time.Since(start).Seconds()

	if err != nil {
		msg := err.Error()
		report.State = common.RunFailed
		if e := wf.UpdateRun(context.WithoutCancel(ctx), runID, common.RunFailed, &msg); e != nil {
			log.Logger(ctx).Sugar().Errorf("update run %s: %v", runID, e)
		}
	} else {
		if e := wf.UpdateRun(context.WithoutCancel(ctx), runID, report.State, nil); e != nil {
			log.Logger(ctx).Sugar().Errorf("update run %s: %v", runID, e)
		}
	}
	if e := wf.SetRunReport(context.WithoutCancel(ctx), runID, report); e != nil {
		log.Logger(ctx).Sugar().Errorf("store report %s: %v", runID, e)
	}
	return report, err
}

func (wf *Workflow) process(ctx context.Context, runID string, area common.AreaOfInterest) (common.RunReport, error) {
	lg := log.Logger(ctx).Sugar()

	// Locate the tiles with the first successful catalog
	if err := wf.UpdateRun(ctx, runID, common.RunLocating, nil); err != nil {
		return common.RunReport{}, fmt.Errorf("Process.%w", err)
	}
	var inventory catalog.Inventory
	var err error
	for _, cat := range wf.catalogs {
		inv, e := cat.SearchTiles(ctx, area)
		if err = service.MergeErrors(false, err, e); err == nil {
			inventory = inv
			break
		}
		lg.Warnf("%v", e)
	}
	if err != nil {
		return common.RunReport{}, fmt.Errorf("Process.SearchTiles.%w", err)
	}

	if err := wf.UpdateRun(ctx, runID, common.RunProcessing, nil); err != nil {
		return common.RunReport{}, fmt.Errorf("Process.%w", err)
	}

	// The workers pull from the lazy inventory through a blocking channel:
	// tiles are never materialized upfront.
	acc := &reportAccumulator{report: common.RunReport{State: common.RunCompleted}}
	tiles := make(chan common.TileRef)
	wg, wctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		defer close(tiles)
		for {
			tile, ok, err := inventory.Next(wctx)
			if err != nil {
				return fmt.Errorf("inventory.%w", err)
			}
			if !ok {
				return nil
			}
			if err := wf.RunBackend.CreateTile(wctx, runID, tile, common.StatusNEW); err != nil {
				if errors.As(err, &db.ErrAlreadyExists{}) {
					continue
				}
				return fmt.Errorf("inventory.%w", err)
			}
			select {
			case tiles <- tile:
			case <-wctx.Done():
				return nil
			}
		}
	})

	nbWorkers := wf.NbWorkers
	if nbWorkers <= 0 {
		nbWorkers = DefaultWorkers
	}
	for i := 0; i < nbWorkers; i++ {
		wg.Go(func() error {
			for tile := range tiles {
				wf.processTile(wctx, runID, tile, acc)
			}
			return nil
		})
	}

	err = wg.Wait()
	report := acc.report
	if ctx.Err() != nil {
		// a cancelled run is not a failed one, even when the feeder
		// surfaces the dead context as a catalog error
		report.State = common.RunCancelled
		return report, nil
	}
	if err != nil {
		return report, err
	}
	return report, nil
}

// processTile runs fetch, compute and store for one tile under the per-tile
// timeout, records the outcome and never returns an error: a tile failure
// must not abort the run.
func (wf *Workflow) processTile(ctx context.Context, runID string, tile common.TileRef, acc *reportAccumulator) {
	lg := log.Logger(ctx).Sugar()

	if ctx.Err() != nil {
		// never started: the tile is not attempted
		return
	}

	// Already stored by a previous run
	if ok, err := wf.store.Exists(ctx, tile); err != nil {
		wf.failTile(ctx, runID, tile, storage.ErrUnavailable{Err: err}, acc)
		return
	} else if ok {
		lg.Infof("skipping %s: already stored", tile.Key())
		wf.updateTile(ctx, runID, tile, common.StatusSKIPPED, nil, "")
		acc.skip()
		wf.publishResult(ctx, runID, tile, common.StatusSKIPPED, "")
		return
	}

	wf.updateTile(ctx, runID, tile, common.StatusPENDING, nil, "")

	tctx, cancel := context.WithTimeout(ctx, wf.tileTimeout())
	defer cancel()

	uri, err := func() (string, error) {
		bands, err := downloader.FetchTile(tctx, wf.providers, tile, wf.Workdir, wf.nbRetries())
		if err != nil {
			return "", err
		}
		return processor.ProcessTile(tctx, wf.store, tile, bands)
	}()
	if err != nil {
		wf.failTile(ctx, runID, tile, err, acc)
		return
	}

	lg.Infof("done %s: %s", tile.Key(), uri)
	wf.updateTile(ctx, runID, tile, common.StatusDONE, nil, uri)
	acc.succeed()
	wf.publishResult(ctx, runID, tile, common.StatusDONE, "")
}

func (wf *Workflow) failTile(ctx context.Context, runID string, tile common.TileRef, err error, acc *reportAccumulator) {
	kind := ClassifyError(ctx, err)
	log.Logger(ctx).Sugar().Warnf("failed %s (%s): %v", tile.Key(), kind, err)
	msg := err.Error()
	wf.updateTile(ctx, runID, tile, common.StatusFAILED, &msg, "")
	acc.fail(tile, kind, err)
	wf.publishResult(ctx, runID, tile, common.StatusFAILED, msg)
}

func (wf *Workflow) updateTile(ctx context.Context, runID string, tile common.TileRef, status common.Status, message *string, uri string) {
	// tile bookkeeping must survive the cancellation of the run
	if err := wf.RunBackend.UpdateTile(context.WithoutCancel(ctx), runID, tile.Key(), status, message, uri); err != nil {
		log.Logger(ctx).Sugar().Errorf("update tile %s: %v", tile.Key(), err)
	}
}

func (wf *Workflow) publishResult(ctx context.Context, runID string, tile common.TileRef, status common.Status, message string) {
	if wf.events == nil {
		return
	}
	plb, err := json.Marshal(common.Result{
		RunID:    runID,
		SourceID: tile.SourceID,
		Date:     tile.Date,
		Status:   status,
		Message:  message,
	})
	if err != nil {
		log.Logger(ctx).Sugar().Errorf("marshal result %s: %v", tile.Key(), err)
		return
	}
	if err := wf.events.Publish(context.WithoutCancel(ctx), plb); err != nil {
		log.Logger(ctx).Sugar().Errorf("publish result %s: %v", tile.Key(), err)
	}
}

func (wf *Workflow) tileTimeout() time.Duration {
	if wf.TileTimeout <= 0 {
		return DefaultTileTimeout
	}
	return wf.TileTimeout
}

func (wf *Workflow) nbRetries() int {
	if wf.NbRetries <= 0 {
		return downloader.DefaultRetries
	}
	return wf.NbRetries
}

// ClassifyError maps a tile failure to the kind accounting for it in the
// report. Every tile without a stored raster gets exactly one kind.
func ClassifyError(ctx context.Context, err error) common.ErrorKind {
	var notFound provider.ErrTileNotFound
	var corrupt downloader.ErrCorrupt
	var invalid raster.ErrInvalidFormat
	var unavailable storage.ErrUnavailable
	switch {
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		return common.KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return common.KindTimedOut
	case errors.As(err, &notFound):
		return common.KindNotFound
	case errors.As(err, &corrupt), errors.As(err, &invalid):
		return common.KindCorruptData
	case errors.As(err, &unavailable):
		return common.KindStoreUnavailable
	default:
		if _, ok := service.RateLimited(err); ok {
			return common.KindRateLimited
		}
		return common.KindTransientNetworkError
	}
}
