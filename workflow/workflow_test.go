package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/downloader"
	"github.com/alfredoluis848/ndvi-ingester/interface/catalog"
	db "github.com/alfredoluis848/ndvi-ingester/interface/database"
	"github.com/alfredoluis848/ndvi-ingester/interface/provider"
	"github.com/alfredoluis848/ndvi-ingester/interface/storage"
	"github.com/alfredoluis848/ndvi-ingester/service"
	"github.com/alfredoluis848/ndvi-ingester/service/raster"
	"github.com/alfredoluis848/ndvi-ingester/workflow"
)

var _ = Describe("Workflow.Process", func() {
	var (
		ctx     context.Context
		backend *db.MemoryBackend
		store   storage.Store
		events  *MokePublisher
		workdir string
		stodir  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = db.NewMemoryBackend()
		events = &MokePublisher{}
		var err error
		workdir, err = os.MkdirTemp("", "ndvi-work")
		Expect(err).NotTo(HaveOccurred())
		stodir, err = os.MkdirTemp("", "ndvi-store")
		Expect(err).NotTo(HaveOccurred())
		store = storage.NewLocalStore(stodir)
	})

	AfterEach(func() {
		os.RemoveAll(workdir)
		os.RemoveAll(stodir)
	})

	newWorkflow := func(cats []catalog.TileProvider, prov provider.BandProvider) *workflow.Workflow {
		wf := workflow.NewWorkflow(backend, cats, []provider.BandProvider{prov}, store, events)
		wf.Workdir = workdir
		wf.NbWorkers = 2
		return wf
	}

	okProvider := func() *MokeProvider {
		return &MokeProvider{Fn: func(ctx context.Context, tile common.TileRef, localDir string) error {
			return writeMokeBands(tile, localDir)
		}}
	}

	It("stores one raster per located tile", func() {
		tiles := []common.TileRef{mokeTile("S2A_T31_A", 1), mokeTile("S2B_T31_B", 4), mokeTile("S2A_T31_C", 6)}
		wf := newWorkflow([]catalog.TileProvider{&MokeCatalog{Tiles: tiles}}, okProvider())

		report, err := wf.Process(ctx, "run-1", mokeArea())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.State).To(Equal(common.RunCompleted))
		Expect(report.Attempted).To(Equal(3))
		Expect(report.Succeeded).To(Equal(3))
		Expect(report.Failed).To(BeZero())
		Expect(report.Failures).To(BeEmpty())

		for _, tile := range tiles {
			ok, err := store.Exists(ctx, tile)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue(), tile.Key())
		}
		status, err := backend.TilesStatus(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Done).To(Equal(int64(3)))

		run, err := backend.Run(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(run.State).To(Equal(common.RunCompleted))
		Expect(run.Report).NotTo(BeNil())
		Expect(run.Report.Succeeded).To(Equal(3))
		Expect(events.Messages()).To(HaveLen(3))
	})

	It("records tile failures without failing the run", func() {
		tiles := []common.TileRef{mokeTile("S2A_T31_A", 1), mokeTile("S2B_T31_B", 4), mokeTile("S2A_T31_C", 6)}
		prov := &MokeProvider{Fn: func(ctx context.Context, tile common.TileRef, localDir string) error {
			if tile.SourceID == "S2B_T31_B" {
				return provider.ErrTileNotFound{Tile: tile.SourceID}
			}
			return writeMokeBands(tile, localDir)
		}}
		wf := newWorkflow([]catalog.TileProvider{&MokeCatalog{Tiles: tiles}}, prov)

		report, err := wf.Process(ctx, "run-1", mokeArea())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.State).To(Equal(common.RunCompleted))
		Expect(report.Attempted).To(Equal(3))
		Expect(report.Succeeded).To(Equal(2))
		Expect(report.Failed).To(Equal(1))
		Expect(report.Failures).To(HaveLen(1))
		Expect(report.Failures[0].SourceID).To(Equal("S2B_T31_B"))
		Expect(report.Failures[0].Kind).To(Equal(common.KindNotFound))

		entries := 0
		for _, tile := range tiles {
			if ok, _ := store.Exists(ctx, tile); ok {
				entries++
			}
		}
		Expect(entries).To(Equal(2))

		status, err := backend.TilesStatus(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Done).To(Equal(int64(2)))
		Expect(status.Failed).To(Equal(int64(1)))

		run, err := backend.Run(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(run.State).To(Equal(common.RunCompleted))
	})

	It("skips the tiles already stored", func() {
		tiles := []common.TileRef{mokeTile("S2A_T31_A", 1), mokeTile("S2A_T31_C", 6)}

		buf := &bytes.Buffer{}
		Expect(raster.Encode(buf, &raster.Raster{Width: 1, Height: 1, Nodata: -9999, Pixels: []float32{0.5}})).To(Succeed())
		_, err := store.Put(ctx, tiles[0], bytes.NewReader(buf.Bytes()))
		Expect(err).NotTo(HaveOccurred())

		wf := newWorkflow([]catalog.TileProvider{&MokeCatalog{Tiles: tiles}}, okProvider())
		report, err := wf.Process(ctx, "run-1", mokeArea())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.State).To(Equal(common.RunCompleted))
		Expect(report.Attempted).To(Equal(1))
		Expect(report.Succeeded).To(Equal(1))
		Expect(report.Skipped).To(Equal(1))

		status, err := backend.TilesStatus(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Skipped).To(Equal(int64(1)))
	})

	It("falls back to the next catalog", func() {
		tiles := []common.TileRef{mokeTile("S2A_T31_A", 1)}
		broken := &MokeCatalog{Err: catalog.ErrCatalogUnavailable{Catalog: "moke", Err: errors.New("boom")}}
		wf := newWorkflow([]catalog.TileProvider{broken, &MokeCatalog{Tiles: tiles}}, okProvider())

		report, err := wf.Process(ctx, "run-1", mokeArea())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Succeeded).To(Equal(1))
	})

	It("fails the run when no catalog answers", func() {
		broken := &MokeCatalog{Err: catalog.ErrCatalogUnavailable{Catalog: "moke", Err: errors.New("boom")}}
		wf := newWorkflow([]catalog.TileProvider{broken}, okProvider())

		report, err := wf.Process(ctx, "run-1", mokeArea())
		Expect(err).To(HaveOccurred())
		Expect(report.State).To(Equal(common.RunFailed))

		run, err := backend.Run(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(run.State).To(Equal(common.RunFailed))
		Expect(run.Message).NotTo(BeEmpty())
	})

	It("rejects an invalid area before creating the run", func() {
		area := mokeArea()
		area.MaxCloudCover = 120
		wf := newWorkflow([]catalog.TileProvider{&MokeCatalog{}}, okProvider())

		_, err := wf.Process(ctx, "run-1", area)
		Expect(err).To(HaveOccurred())
		_, err = backend.Run(ctx, "run-1")
		Expect(errors.As(err, &db.ErrNotFound{})).To(BeTrue())
	})

	It("records a timed out tile and completes the run", func() {
		tiles := []common.TileRef{mokeTile("S2A_T31_A", 1), mokeTile("S2B_T31_B", 4)}
		prov := &MokeProvider{Fn: func(ctx context.Context, tile common.TileRef, localDir string) error {
			if tile.SourceID == "S2B_T31_B" {
				<-ctx.Done()
				return ctx.Err()
			}
			return writeMokeBands(tile, localDir)
		}}
		wf := newWorkflow([]catalog.TileProvider{&MokeCatalog{Tiles: tiles}}, prov)
		wf.TileTimeout = 50 * time.Millisecond

		report, err := wf.Process(ctx, "run-1", mokeArea())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.State).To(Equal(common.RunCompleted))
		Expect(report.Attempted).To(Equal(2))
		Expect(report.Succeeded).To(Equal(1))
		Expect(report.Failed).To(Equal(1))
		Expect(report.Failures).To(HaveLen(1))
		Expect(report.Failures[0].SourceID).To(Equal("S2B_T31_B"))
		Expect(report.Failures[0].Kind).To(Equal(common.KindTimedOut))

		status, err := backend.TilesStatus(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Done).To(Equal(int64(1)))
		Expect(status.Failed).To(Equal(int64(1)))
	})

	It("ends cancelled when the catalog page fetch dies with the run", func() {
		inv := &blockingInventory{
			tiles:    []common.TileRef{mokeTile("S2A_T31_A", 1)},
			fetching: make(chan struct{}, 1),
		}
		wf := newWorkflow([]catalog.TileProvider{&MokeCatalog{Inventory: inv}}, okProvider())

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan common.RunReport, 1)
		go func() {
			defer GinkgoRecover()
			report, err := wf.Process(cctx, "run-1", mokeArea())
			Expect(err).NotTo(HaveOccurred())
			done <- report
		}()

		Eventually(inv.fetching, 10*time.Second).Should(Receive())
		cancel()
		var report common.RunReport
		Eventually(done, 10*time.Second).Should(Receive(&report))

		Expect(report.State).To(Equal(common.RunCancelled))

		run, err := backend.Run(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(run.State).To(Equal(common.RunCancelled))
		Expect(run.Message).To(BeEmpty())
	})

	It("ends cancelled and keeps the stored rasters", func() {
		tiles := []common.TileRef{
			mokeTile("S2A_T31_A", 1), mokeTile("S2B_T31_B", 4),
			mokeTile("S2A_T31_C", 6), mokeTile("S2B_T31_D", 9),
		}
		blocked := make(chan struct{}, 1)
		prov := &MokeProvider{Fn: func(ctx context.Context, tile common.TileRef, localDir string) error {
			if tile.SourceID == "S2A_T31_A" {
				return writeMokeBands(tile, localDir)
			}
			select {
			case blocked <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		}}
		wf := newWorkflow([]catalog.TileProvider{&MokeCatalog{Tiles: tiles}}, prov)
		wf.NbWorkers = 1

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan common.RunReport, 1)
		go func() {
			defer GinkgoRecover()
			report, err := wf.Process(cctx, "run-1", mokeArea())
			Expect(err).NotTo(HaveOccurred())
			done <- report
		}()

		Eventually(blocked, 10*time.Second).Should(Receive())
		cancel()
		var report common.RunReport
		Eventually(done, 10*time.Second).Should(Receive(&report))

		Expect(report.State).To(Equal(common.RunCancelled))
		Expect(report.Succeeded).To(Equal(1))
		Expect(report.Failed).To(BeNumerically(">=", 1))
		for _, failure := range report.Failures {
			Expect(failure.Kind).To(Equal(common.KindCancelled))
		}
		// never-dequeued tiles are not attempted
		Expect(report.Attempted).To(BeNumerically("<", len(tiles)))

		ok, err := store.Exists(ctx, tiles[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		run, err := backend.Run(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(run.State).To(Equal(common.RunCancelled))
		Expect(run.Report).NotTo(BeNil())
	})
})

var _ = Describe("ClassifyError", func() {
	ctx := context.Background()

	It("classifies the terminal error of a tile", func() {
		Expect(workflow.ClassifyError(ctx, context.Canceled)).To(Equal(common.KindCancelled))
		Expect(workflow.ClassifyError(ctx, fmt.Errorf("fetch: %w", context.DeadlineExceeded))).To(Equal(common.KindTimedOut))
		Expect(workflow.ClassifyError(ctx, provider.ErrTileNotFound{Tile: "S2A"})).To(Equal(common.KindNotFound))
		Expect(workflow.ClassifyError(ctx, downloader.ErrCorrupt{Tile: "S2A", Reason: "checksum"})).To(Equal(common.KindCorruptData))
		Expect(workflow.ClassifyError(ctx, raster.ErrInvalidFormat{Reason: "bad magic"})).To(Equal(common.KindCorruptData))
		Expect(workflow.ClassifyError(ctx, storage.ErrUnavailable{Err: errors.New("boom")})).To(Equal(common.KindStoreUnavailable))
		Expect(workflow.ClassifyError(ctx, fmt.Errorf("fetch: %w", service.ErrRateLimited{RetryAfter: time.Second}))).To(Equal(common.KindRateLimited))
		Expect(workflow.ClassifyError(ctx, errors.New("connection reset"))).To(Equal(common.KindTransientNetworkError))
	})

	It("classifies any error of a cancelled tile as cancelled", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		Expect(workflow.ClassifyError(cctx, errors.New("connection reset"))).To(Equal(common.KindCancelled))
	})
})
