// overlayd is the broadcast overlay server.
//
// It keeps the scene store, serves the control surfaces and the renderer over
// WebSocket, and optionally mirrors every snapshot to an MQTT broker and
// records command telemetry in InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/overlay-core/migrations"

	"github.com/nerrad567/overlay-core/internal/announce"
	"github.com/nerrad567/overlay-core/internal/api"
	"github.com/nerrad567/overlay-core/internal/infrastructure/config"
	"github.com/nerrad567/overlay-core/internal/infrastructure/database"
	"github.com/nerrad567/overlay-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/overlay-core/internal/infrastructure/logging"
	"github.com/nerrad567/overlay-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/overlay-core/internal/mirror"
	"github.com/nerrad567/overlay-core/internal/overlay"
	"github.com/nerrad567/overlay-core/internal/panel"
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

// run is the application logic, separated from main for testability. It
// returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting overlayd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	lock, err := database.AcquireWriterLock(cfg.Database.Path)
	if err != nil {
		if errors.Is(err, database.ErrWriterLocked) {
			return fmt.Errorf("another process is writing %s: %w", cfg.Database.Path, err)
		}
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			log.Error("error releasing writer lock", "error", releaseErr)
		}
	}()
	log.Info("database opened", "path", cfg.Database.Path, "lock", lock.Path())

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry, err := loadRegistry(ctx, db, log)
	if err != nil {
		return err
	}

	var resolver announce.Resolver
	if cfg.Announce.Enabled {
		resolver = announce.NewOEmbedResolver(announce.WithEndpoint(cfg.Announce.Endpoint))
		log.Info("announcements enabled", "endpoint", cfg.Announce.Endpoint)
	} else {
		log.Info("announcements disabled")
	}

	if cfg.UI.Enabled {
		log.Info("serving UI", "dir", cfg.UI.Dir, "from_disk", panel.FromDisk(cfg.UI.Dir))
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	group, groupCtx := errgroup.WithContext(runCtx)

	deps := api.Deps{
		Config:          cfg.API,
		WS:              cfg.WebSocket,
		UI:              cfg.UI,
		Logger:          log,
		Registry:        registry,
		Slot:            announce.NewSlot(),
		Resolver:        resolver,
		AnnounceTimeout: cfg.GetAnnounceTimeout(),
		DB:              db,
		Version:         version,
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		m := mirror.New(mqttClient, mqttClient.Topics())
		m.SetLogger(log)
		group.Go(func() error {
			return m.Run(groupCtx)
		})

		deps.MQTT = mqttClient
		deps.Mirror = m
	} else {
		log.Info("MQTT disabled")
	}

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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		deps.Telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(groupCtx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	notifySystemd(log, daemon.SdNotifyReady)
	log.Info("initialisation complete, waiting for shutdown signal")

	<-groupCtx.Done()
	log.Info("shutdown signal received, cleaning up")
	notifySystemd(log, daemon.SdNotifyStopping)

	if closeErr := srv.Close(); closeErr != nil {
		log.Error("error stopping API server", "error", closeErr)
	}
	if waitErr := group.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return fmt.Errorf("background task failed: %w", waitErr)
	}

	log.Info("overlayd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses OVERLAY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("OVERLAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadRegistry builds the scene registry from the store, creating the default
// scene on an empty database.
func loadRegistry(ctx context.Context, db *database.DB, log *logging.Logger) (*overlay.Registry, error) {
	registry := overlay.NewRegistry(overlay.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)

	if err := registry.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading scenes: %w", err)
	}
	seeded, err := registry.Seed(ctx)
	if err != nil {
		return nil, fmt.Errorf("seeding scenes: %w", err)
	}
	log.Info("scene registry ready", "scenes", registry.Len(), "seeded", seeded)
	return registry, nil
}

func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"prefix", client.Topics().Prefix(),
	)
	return client, nil
}

// healthCheck verifies the infrastructure connections. Optional clients may
// be nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// notifySystemd reports a state change when running under systemd. Outside
// systemd it does nothing.
func notifySystemd(log *logging.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Warn("sd_notify failed", "state", state, "error", err)
	}
}
