// BioSync Core - Multi-Device Connectivity & Offline-First Sync
//
// This is the main entry point for the BioSync Core daemon. It owns the
// connection lifecycle for measurement devices across BLE, LAN, and
// device-hosted access-point transports, and guarantees that every
// captured measurement eventually reaches the remote API, however long
// the host stays offline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/halcyonbio/biosync-core/migrations"

	"github.com/halcyonbio/biosync-core/internal/command"
	"github.com/halcyonbio/biosync-core/internal/coordinator"
	"github.com/halcyonbio/biosync-core/internal/device"
	"github.com/halcyonbio/biosync-core/internal/events"
	"github.com/halcyonbio/biosync-core/internal/health"
	"github.com/halcyonbio/biosync-core/internal/infrastructure/config"
	"github.com/halcyonbio/biosync-core/internal/infrastructure/database"
	"github.com/halcyonbio/biosync-core/internal/infrastructure/influxdb"
	"github.com/halcyonbio/biosync-core/internal/infrastructure/logging"
	"github.com/halcyonbio/biosync-core/internal/syncengine"
	"github.com/halcyonbio/biosync-core/internal/syncqueue"
	"github.com/halcyonbio/biosync-core/internal/transport"
	"github.com/halcyonbio/biosync-core/internal/transport/mqttlan"
	"github.com/halcyonbio/biosync-core/internal/transport/wsap"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use the default logger until config is loaded.
	log := logging.Default()
	log.Info("starting BioSync Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	// Durable queue storage.
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Shared in-process state.
	registry := device.NewRegistry()
	registry.SetLogger(log)
	bus := events.NewBus()

	// Telemetry is optional; the daemon runs without it.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Transport adapters. The LAN adapter needs a broker; treat its
	// absence as degraded rather than fatal so BLE/AP still work.
	drivers := []transport.Driver{wsap.NewDriver()}
	lanDriver, err := mqttlan.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("LAN transport unavailable", "error", err)
	} else {
		lanDriver.SetLogger(log)
		defer func() {
			log.Info("closing LAN transport")
			lanDriver.Close()
		}()
		drivers = append(drivers, lanDriver)
		log.Info("LAN transport connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	}

	// Connection coordinator.
	coord := coordinator.New(coordinator.Options{
		Registry:           registry,
		Bus:                bus,
		Drivers:            drivers,
		MaxBLEConnections:  cfg.Coordinator.MaxBLEConnections,
		ReconnectAttempts:  cfg.Coordinator.ReconnectAttempts,
		ReconnectBaseDelay: cfg.GetReconnectBaseDelay(),
		CloudProbeURL:      cfg.Coordinator.CloudProbeURL,
		LocalProbeURL:      cfg.Coordinator.LocalProbeURL,
		ProbeTimeout:       cfg.GetProbeTimeout(),
		ModeProbeInterval:  cfg.GetModeProbeInterval(),
		Logger:             log,
	})
	coord.Start(ctx)
	defer func() {
		log.Info("disconnecting devices")
		coord.Stop()
	}()
	log.Info("coordinator started", "network_mode", coord.NetworkMode())

	// Command dispatcher.
	dispatcher := command.NewDispatcher(registry, coord, cfg.GetRequestTimeout())
	dispatcher.SetLogger(log)
	_ = dispatcher // Exposed to callers embedding the core

	// Health monitor.
	var telemetry health.Telemetry
	if influxClient != nil {
		telemetry = influxClient
	}
	monitor := health.New(health.Options{
		Registry:            registry,
		Bus:                 bus,
		Sessions:            coord,
		Telemetry:           telemetry,
		Interval:            cfg.GetHealthInterval(),
		LowBatteryThreshold: cfg.Health.LowBatteryThreshold,
		Logger:              log,
	})
	monitor.Start(ctx)
	defer func() {
		log.Info("stopping health monitor")
		monitor.Stop()
	}()

	// Sync engine over the durable queue.
	engine := syncengine.New(syncengine.Options{
		Store:        syncqueue.NewSQLiteStore(db),
		Client:       syncengine.NewHTTPClient(cfg.Remote),
		Bus:          bus,
		Connectivity: coord,
		Interval:     cfg.GetSyncInterval(),
		BatchSize:    cfg.Sync.BatchSize,
		MaxQueueSize: cfg.Sync.MaxQueueSize,
		MaxRetries:   cfg.Sync.MaxRetries,
		GracePeriod:  cfg.GetGracePeriod(),
		Logger:       log,
	})
	engine.Start(ctx)
	defer func() {
		log.Info("stopping sync engine")
		engine.Stop()
	}()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BIOSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BIOSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
