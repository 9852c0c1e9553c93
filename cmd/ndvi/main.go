package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/interface/catalog"
	"github.com/alfredoluis848/ndvi-ingester/interface/catalog/stac"
	db "github.com/alfredoluis848/ndvi-ingester/interface/database"
	"github.com/alfredoluis848/ndvi-ingester/interface/database/pg"
	"github.com/alfredoluis848/ndvi-ingester/interface/provider"
	"github.com/alfredoluis848/ndvi-ingester/interface/storage"
	"github.com/alfredoluis848/ndvi-ingester/service/log"
	"github.com/alfredoluis848/ndvi-ingester/workflow"
)

type config struct {
	AOIName  string
	BBox     string
	Start    string
	End      string
	MaxCloud float64

	WorkingDir string
	StorageURI string

	DbConnection string

	CatalogURL   string
	CatalogToken string
	Collection   string
	NoRelax      bool

	LocalProviderPath string
	ProviderToken     string
	FTPPattern        string
	FTPUsername       string
	FTPPassword       string
	GSPattern         string

	Workers     int
	Retries     int
	TileTimeout time.Duration
}

// envOr returns the value of the environment variable if set, def otherwise
func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func newAppConfig() (*config, error) {
	config := config{}
	// Area of interest
	flag.StringVar(&config.AOIName, "aoi", envOr("NDVI_AOI", ""), "name of the area of interest")
	flag.StringVar(&config.BBox, "bbox", envOr("NDVI_BBOX", ""), "bounding box of the area of interest (minLon,minLat,maxLon,maxLat in WGS84)")
	flag.StringVar(&config.Start, "start-date", envOr("NDVI_START_DATE", ""), "start of the acquisition interval")
	flag.StringVar(&config.End, "end-date", envOr("NDVI_END_DATE", ""), "end of the acquisition interval")
	maxCloud := flag.String("max-cloud", envOr("NDVI_MAX_CLOUD", "20"), "eo:cloud_cover upper bound in percent")

	// Global config
	flag.StringVar(&config.WorkingDir, "workdir", envOr("NDVI_WORKDIR", os.TempDir()), "working directory to store intermediate band files")
	flag.StringVar(&config.StorageURI, "storage-uri", envOr("NDVI_STORAGE_URI", ""), "storage uri for the computed rasters (currently supported: local, gs)")
	flag.StringVar(&config.DbConnection, "db-connection", envOr("NDVI_DB_CONNECTION", ""), "postgres connection to track runs and tiles (optional, in-memory otherwise)")

	// Catalog
	flag.StringVar(&config.CatalogURL, "catalog-url", envOr("NDVI_CATALOG_URL", stac.PlanetaryComputerURL), "STAC search endpoint")
	flag.StringVar(&config.CatalogToken, "catalog-token", envOr("NDVI_CATALOG_TOKEN", ""), "bearer token of the STAC endpoint (optional)")
	flag.StringVar(&config.Collection, "collection", envOr("NDVI_COLLECTION", stac.DefaultCollection), "STAC collection to search")
	flag.BoolVar(&config.NoRelax, "no-relax", false, "disable the search relaxation when the initial search returns no tile")

	// Providers
	flag.StringVar(&config.LocalProviderPath, "local-path", "", "local path where band files are stored (optional). To configure a local path as a potential band Provider.")
	flag.StringVar(&config.ProviderToken, "provider-token", envOr("NDVI_PROVIDER_TOKEN", ""), "bearer token to download the catalog assets (optional)")
	flag.StringVar(&config.FTPPattern, "ftp-pattern", "", "ftp url pattern where band files are stored (optional). To configure FTP as a potential band Provider.")
	flag.StringVar(&config.FTPUsername, "ftp-username", "", "ftp account username (optional)")
	flag.StringVar(&config.FTPPassword, "ftp-password", "", "ftp account password (optional)")
	flag.StringVar(&config.GSPattern, "gs-pattern", "", "gs url pattern where band files are stored (optional). To configure Google Storage as a potential band Provider.")

	// Pipeline
	flag.IntVar(&config.Workers, "workers", workflow.DefaultWorkers, "number of tiles processed in parallel")
	flag.IntVar(&config.Retries, "retries", 0, "download attempts per provider (0: default)")
	flag.DurationVar(&config.TileTimeout, "tile-timeout", workflow.DefaultTileTimeout, "timeout of fetch+compute+store of one tile")
	flag.Parse()

	if config.BBox == "" {
		return nil, fmt.Errorf("missing bbox config flag")
	}
	if config.Start == "" || config.End == "" {
		return nil, fmt.Errorf("missing start-date/end-date config flags")
	}
	if config.StorageURI == "" {
		return nil, fmt.Errorf("missing storage-uri config flag")
	}
	var err error
	if config.MaxCloud, err = strconv.ParseFloat(*maxCloud, 64); err != nil {
		return nil, fmt.Errorf("malformed max-cloud: %w", err)
	}
	return &config, nil
}

func (c *config) area() (common.AreaOfInterest, error) {
	area := common.AreaOfInterest{Name: c.AOIName, MaxCloudCover: c.MaxCloud}

	fields := strings.Split(c.BBox, ",")
	if len(fields) != 4 {
		return area, fmt.Errorf("malformed bbox (expecting minLon,minLat,maxLon,maxLat): %s", c.BBox)
	}
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return area, fmt.Errorf("malformed bbox: %w", err)
		}
		area.BBox[i] = v
	}

	var err error
	if area.StartDate, err = dateparse.ParseAny(c.Start); err != nil {
		return area, fmt.Errorf("malformed start-date: %w", err)
	}
	if area.EndDate, err = dateparse.ParseAny(c.End); err != nil {
		return area, fmt.Errorf("malformed end-date: %w", err)
	}
	return area, area.Validate()
}

func (c *config) bandProviders() ([]provider.BandProvider, []string, error) {
	var bandProviders []provider.BandProvider
	var providerNames []string
	if c.LocalProviderPath != "" {
		providerNames = append(providerNames, "local ("+c.LocalProviderPath+")")
		bandProviders = append(bandProviders, provider.NewLocalBandProvider(c.LocalProviderPath))
	}
	if c.FTPPattern != "" {
		providerNames = append(providerNames, "FTP ("+c.FTPUsername+")")
		bandProviders = append(bandProviders, provider.NewFTPBandProvider(c.FTPPattern, c.FTPUsername, c.FTPPassword))
	}
	if c.GSPattern != "" {
		gs, err := provider.NewGSBandProvider(c.GSPattern)
		if err != nil {
			return nil, nil, fmt.Errorf("malformed gs-pattern: %w", err)
		}
		providerNames = append(providerNames, "GS ("+c.GSPattern+")")
		bandProviders = append(bandProviders, gs)
	}
	// The catalog assets are always a fallback
	providerNames = append(providerNames, "HTTP")
	bandProviders = append(bandProviders, provider.NewHTTPBandProvider(c.ProviderToken))
	return bandProviders, providerNames, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx); err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	area, err := config.area()
	if err != nil {
		return err
	}

	var backend db.RunBackend
	if config.DbConnection != "" {
		if backend, err = pg.New(ctx, config.DbConnection); err != nil {
			return fmt.Errorf("pg.New: %w", err)
		}
	} else {
		backend = db.NewMemoryBackend()
	}

	store, err := storage.NewStore(ctx, config.StorageURI)
	if err != nil {
		return fmt.Errorf("storage %s: %w", config.StorageURI, err)
	}

	bandProviders, providerNames, err := config.bandProviders()
	if err != nil {
		return err
	}

	catalogs := []catalog.TileProvider{&stac.Provider{
		URL:        config.CatalogURL,
		Collection: config.Collection,
		Token:      config.CatalogToken,
		NoRelax:    config.NoRelax,
	}}

	wf := workflow.NewWorkflow(backend, catalogs, bandProviders, store, nil)
	wf.NbWorkers = config.Workers
	wf.NbRetries = config.Retries
	wf.TileTimeout = config.TileTimeout
	wf.Workdir = config.WorkingDir

	runID := uuid.New().String()
	log.Logger(ctx).Sugar().Infof("run %s starts, downloading bands from %s, exporting to %s", runID, strings.Join(providerNames, ", "), config.StorageURI)

	report, err := wf.Process(ctx, runID, area)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if e := enc.Encode(report); e != nil {
		return fmt.Errorf("encode report: %w", e)
	}
	// only a failed run exits non-zero: tile failures are part of the report
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	return nil
}
