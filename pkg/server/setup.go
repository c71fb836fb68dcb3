// Package server wires storage, ingest, analytics and background tasks into
// the devicepulse HTTP service.
package server

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/nicktill/devicepulse/pkg/analytics"
	"github.com/nicktill/devicepulse/pkg/config"
	"github.com/nicktill/devicepulse/pkg/dashboard"
	"github.com/nicktill/devicepulse/pkg/export"
	"github.com/nicktill/devicepulse/pkg/ingest"
	"github.com/nicktill/devicepulse/pkg/retention"
	"github.com/nicktill/devicepulse/pkg/server/monitor"
	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/storage/badger"
	"github.com/nicktill/devicepulse/pkg/storage/memory"
	"github.com/nicktill/devicepulse/pkg/storage/postgres"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// App is the assembled server. Build it with New; nothing here is global.
type App struct {
	Config *config.Config
	Store  storage.Store
	Clock  telemetry.Clock

	Ingest    *ingest.Handler
	Dashboard *dashboard.Handler
	Export    *export.Handler

	Cleaner          *retention.Cleaner
	StorageMonitor   *monitor.StorageMonitor
	RetentionMonitor *monitor.RetentionMonitor
	Metrics          *Metrics

	// Kafka is nil unless brokers are configured
	Kafka *ingest.KafkaConsumer
}

// OpenStorage opens the backend selected by cfg.StorageBackend.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendBadger:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		log.Printf("Initializing BadgerDB storage in %s...", cfg.DataDir)
		store, err := badger.New(badger.Config{
			Path:        cfg.DataDir,
			MaxMemoryMB: cfg.MaxMemoryMB,
		})
		if err != nil {
			return nil, err
		}
		log.Println("BadgerDB storage initialized successfully")
		return store, nil

	case config.BackendPostgres:
		log.Println("Connecting to PostgreSQL...")
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DatabaseURL})
		if err != nil {
			return nil, err
		}
		log.Println("PostgreSQL storage initialized successfully")
		return store, nil

	case config.BackendMemory:
		log.Println("Using in-memory storage (data is lost on restart)")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// New creates every handler and task dependency around an open store. A
// nil clock uses the system clock.
func New(cfg *config.Config, store storage.Store, clock telemetry.Clock) (*App, error) {
	if clock == nil {
		clock = telemetry.SystemClock{}
	}

	cleaner, err := retention.New(store, cfg.DataExpiry(), clock)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:  cfg,
		Store:   store,
		Clock:   clock,
		Cleaner: cleaner,
		Metrics: NewMetrics(store),
		// Two missed intervals before reporting degraded
		RetentionMonitor: monitor.NewRetentionMonitor(2 * cfg.RetentionInterval),
	}

	if cfg.StorageBackend == config.BackendBadger {
		app.StorageMonitor = monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes())
	} else {
		app.StorageMonitor = monitor.NewStoreMonitor(store, cfg.MaxStorageBytes())
	}
	log.Printf("Storage limit enforcement enabled: %.2f GB max", float64(cfg.MaxStorageBytes())/(1024*1024*1024))

	app.Ingest = ingest.NewHandler(store, clock)
	app.Ingest.SetStorageChecker(app.StorageMonitor)
	app.Ingest.SetDeviceTracker(ingest.NewDeviceTracker(config.MaxActiveDevices, config.DeviceIdleExpiry, clock))
	app.Ingest.SetRecorder(app.Metrics)
	log.Printf("Ingest handler created with storage limits and a %d active device cap", config.MaxActiveDevices)

	app.Dashboard = dashboard.NewHandler(analytics.NewService(store, clock))
	app.Export = export.NewHandler(store, clock)

	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		consumer, err := ingest.NewKafkaConsumer(ingest.KafkaConfig{
			Brokers: brokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, app.Ingest)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		app.Kafka = consumer
	}

	return app, nil
}

// Close releases the Kafka reader and the store.
func (a *App) Close() error {
	if a.Kafka != nil {
		if err := a.Kafka.Close(); err != nil {
			log.Printf("Kafka reader close failed: %v", err)
		}
	}
	return a.Store.Close()
}
