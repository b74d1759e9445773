package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/pulse/internal/clients/venue"
	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/interfaces"
	"github.com/bobmcallan/pulse/internal/services/catalog"
	"github.com/bobmcallan/pulse/internal/services/collector"
	"github.com/bobmcallan/pulse/internal/services/detector"
	"github.com/bobmcallan/pulse/internal/services/notify"
	"github.com/bobmcallan/pulse/internal/storage"
)

// App holds all initialized services, clients and storage.
// It is the shared core used by cmd/pulse-server and the test harness.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Storage     interfaces.StorageManager
	VenueClient interfaces.VenueClient
	Notifier    interfaces.Notifier
	Catalog     interfaces.CatalogService
	Collector   interfaces.CollectorService
	Detector    interfaces.DetectorService
	Scheduler   *Scheduler
	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes configuration, logging, storage, the venue client
// and the monitoring services. configPath may be empty, in which case
// the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	// Get binary directory for self-contained operation
	binDir := getBinaryDir()

	// Load configuration - check provided path, PULSE_CONFIG, then binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("PULSE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "pulse.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/pulse.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative storage path to binary directory
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}

	// Resolve relative log file path to binary directory
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	// Initialize logger
	logger, err := common.NewLoggerFromConfig(config.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize storage
	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize the venue client
	venueClient := venue.NewClient(config.Venue.BaseURL,
		venue.WithLogger(logger),
		venue.WithTimeout(config.Venue.GetTimeout()),
	)

	// Initialize services
	notifier := notify.NewService(storageManager, config, logger)
	detectorService := detector.NewService(storageManager, notifier, config, logger)
	collectorService := collector.NewService(storageManager, venueClient, detectorService, config, logger)
	catalogService := catalog.NewService(storageManager, venueClient, config, logger)

	if !config.Telegram.Enabled() {
		logger.Warn().Msg("Telegram credentials not configured - alerts will be logged only")
	}

	a := &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		VenueClient: venueClient,
		Notifier:    notifier,
		Catalog:     catalogService,
		Collector:   collectorService,
		Detector:    detectorService,
		StartupTime: startupStart,
	}
	a.Scheduler = NewScheduler(a)

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// Close releases all resources held by the App.
// Shutdown order: stop the scheduler, close storage.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
		a.Scheduler = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}
