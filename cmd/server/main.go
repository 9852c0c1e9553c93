package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/alfredoluis848/ndvi-ingester/interface/catalog"
	"github.com/alfredoluis848/ndvi-ingester/interface/catalog/stac"
	db "github.com/alfredoluis848/ndvi-ingester/interface/database"
	"github.com/alfredoluis848/ndvi-ingester/interface/database/pg"
	"github.com/alfredoluis848/ndvi-ingester/interface/messaging"
	"github.com/alfredoluis848/ndvi-ingester/interface/messaging/pubsub"
	"github.com/alfredoluis848/ndvi-ingester/interface/provider"
	"github.com/alfredoluis848/ndvi-ingester/interface/storage"
	"github.com/alfredoluis848/ndvi-ingester/service/log"
	"github.com/alfredoluis848/ndvi-ingester/workflow"
)

type config struct {
	AppPort    string
	WorkingDir string
	StorageURI string

	DbConnection  string
	PsProject     string
	PsResultTopic string

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

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.AppPort, "port", "8080", "server port to use")
	flag.StringVar(&config.WorkingDir, "workdir", os.TempDir(), "working directory to store intermediate band files")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "storage uri for the computed rasters (currently supported: local, gs)")
	flag.StringVar(&config.DbConnection, "db-connection", "", "postgres connection to track runs and tiles (optional, in-memory otherwise)")
	flag.StringVar(&config.PsProject, "ps-project", "", "pubsub project (optional, gcp only)")
	flag.StringVar(&config.PsResultTopic, "ps-result-topic", "", "pubsub topic where per-tile results are published (optional)")

	flag.StringVar(&config.CatalogURL, "catalog-url", stac.PlanetaryComputerURL, "STAC search endpoint")
	flag.StringVar(&config.CatalogToken, "catalog-token", "", "bearer token of the STAC endpoint (optional)")
	flag.StringVar(&config.Collection, "collection", stac.DefaultCollection, "STAC collection to search")
	flag.BoolVar(&config.NoRelax, "no-relax", false, "disable the search relaxation when the initial search returns no tile")

	flag.StringVar(&config.LocalProviderPath, "local-path", "", "local path where band files are stored (optional). To configure a local path as a potential band Provider.")
	flag.StringVar(&config.ProviderToken, "provider-token", "", "bearer token to download the catalog assets (optional)")
	flag.StringVar(&config.FTPPattern, "ftp-pattern", "", "ftp url pattern where band files are stored (optional). To configure FTP as a potential band Provider.")
	flag.StringVar(&config.FTPUsername, "ftp-username", "", "ftp account username (optional)")
	flag.StringVar(&config.FTPPassword, "ftp-password", "", "ftp account password (optional)")
	flag.StringVar(&config.GSPattern, "gs-pattern", "", "gs url pattern where band files are stored (optional). To configure Google Storage as a potential band Provider.")

	flag.IntVar(&config.Workers, "workers", workflow.DefaultWorkers, "number of tiles processed in parallel per run")
	flag.IntVar(&config.Retries, "retries", 0, "download attempts per provider (0: default)")
	flag.DurationVar(&config.TileTimeout, "tile-timeout", workflow.DefaultTileTimeout, "timeout of fetch+compute+store of one tile")
	flag.Parse()

	if config.AppPort == "" {
		return nil, fmt.Errorf("failed to initialize port application flag")
	}
	if config.StorageURI == "" {
		return nil, fmt.Errorf("missing storage-uri config flag")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	// Connection to database
	var backend db.RunBackend
	if config.DbConnection != "" {
		if backend, err = pg.New(ctx, config.DbConnection); err != nil {
			return fmt.Errorf("pg.New: %w", err)
		}
	} else {
		log.Logger(ctx).Warn("no db-connection: runs are tracked in memory")
		backend = db.NewMemoryBackend()
	}

	store, err := storage.NewStore(ctx, config.StorageURI)
	if err != nil {
		return fmt.Errorf("storage %s: %w", config.StorageURI, err)
	}

	// Messaging service
	var resultPublisher messaging.Publisher
	var logMessaging string
	if config.PsResultTopic != "" {
		logMessaging = fmt.Sprintf(" pushing results on %s/%s", config.PsProject, config.PsResultTopic)
		publisher, err := pubsub.NewPublisher(ctx, config.PsProject, config.PsResultTopic)
		if err != nil {
			return fmt.Errorf("pubsub.NewPublisher: %w", err)
		}
		defer publisher.Stop()
		resultPublisher = publisher
	}

	// Band providers
	var bandProviders []provider.BandProvider
	if config.LocalProviderPath != "" {
		bandProviders = append(bandProviders, provider.NewLocalBandProvider(config.LocalProviderPath))
	}
	if config.FTPPattern != "" {
		bandProviders = append(bandProviders, provider.NewFTPBandProvider(config.FTPPattern, config.FTPUsername, config.FTPPassword))
	}
	if config.GSPattern != "" {
		gs, err := provider.NewGSBandProvider(config.GSPattern)
		if err != nil {
			return fmt.Errorf("malformed gs-pattern: %w", err)
		}
		bandProviders = append(bandProviders, gs)
	}
	bandProviders = append(bandProviders, provider.NewHTTPBandProvider(config.ProviderToken))

	catalogs := []catalog.TileProvider{&stac.Provider{
		URL:        config.CatalogURL,
		Collection: config.Collection,
		Token:      config.CatalogToken,
		NoRelax:    config.NoRelax,
	}}

	// Create Workflow Server
	wf := workflow.NewWorkflow(backend, catalogs, bandProviders, store, resultPublisher)
	wf.NbWorkers = config.Workers
	wf.NbRetries = config.Retries
	wf.TileTimeout = config.TileTimeout
	wf.Workdir = config.WorkingDir

	router := wf.NewHandler()
	headersOk := handlers.AllowedHeaders([]string{"*"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "PUT", "OPTIONS"})
	s := http.Server{
		Addr:    ":" + config.AppPort,
		Handler: handlers.CORS(originsOk, headersOk, methodsOk)(router),
	}

	log.Logger(ctx).Debug("server starts on :" + config.AppPort + logMessaging)
	return s.ListenAndServe()
}
