// CovCube Server
//
// This is the main entry point for the CovCube server. It keeps the
// registry of sensor cubes, provisions new cubes over HTTP, ingests their
// readings over MQTT and serves the REST and WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	_ "github.com/CovCube/server/migrations"

	"github.com/CovCube/server/internal/api"
	"github.com/CovCube/server/internal/audit"
	"github.com/CovCube/server/internal/auth"
	"github.com/CovCube/server/internal/catalog"
	"github.com/CovCube/server/internal/cube"
	"github.com/CovCube/server/internal/infrastructure/config"
	"github.com/CovCube/server/internal/infrastructure/database"
	"github.com/CovCube/server/internal/infrastructure/influxdb"
	"github.com/CovCube/server/internal/infrastructure/logging"
	"github.com/CovCube/server/internal/infrastructure/mqtt"
	"github.com/CovCube/server/internal/provisioning"
	"github.com/CovCube/server/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// options are the command-line flags.
type options struct {
	configPath  string
	envFile     string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("cubeserver", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", configPathFromEnv(), "path to the YAML configuration file")
	fs.StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before the configuration")
	fs.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func configPathFromEnv() string {
	if path := os.Getenv("COVCUBE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("cubeserver %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Cancel on Ctrl+C and SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting CovCube server",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
		Retry: database.RetryPolicy{
			MaxAttempts:  cfg.Database.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Database.Retry.InitialDelay) * time.Second,
			MaxDelay:     time.Duration(cfg.Database.Retry.MaxDelay) * time.Second,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				log.Warn("database not ready, retrying", "attempt", attempt, "error", err, "wait", wait)
			},
		},
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	types := catalog.NewStore(db.DB)
	registry := cube.NewRegistry(cube.NewSQLiteRepository(db.DB), types)
	registry.SetLogger(log.Component("registry"))

	store := telemetry.NewStore(telemetry.NewSQLiteRepository(db.DB))
	store.SetLogger(log.Component("telemetry"))

	tokens := auth.NewTokenRepository(db.DB)
	if _, seedErr := auth.SeedAdminToken(ctx, tokens, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin token: %w", seedErr)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	router := telemetry.NewRouter(mqttClient, store, 0)
	router.SetLogger(log.Component("router"))
	mqttClient.SetOnConnect(router.OnConnect)
	mqttClient.SetOnDisconnect(router.OnConnectionLost)
	mqttClient.SetOnReconnecting(router.OnReconnecting)
	registry.SetEventPublisher(mqttClient)

	health := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}

	// Connect to InfluxDB (optional mirror)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB mirror disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		store.SetMirror(influxClient)
		health["influxdb"] = influxClient
		log.Info("InfluxDB mirror connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	broker, err := provisioning.ResolveBroker(cfg.Provisioning, cfg.MQTT.Broker)
	if err != nil {
		return fmt.Errorf("resolving broker address for cubes: %w", err)
	}
	devices := provisioning.NewDeviceClient(cfg.GetProvisioningTimeout())
	registry.SetNotifier(devices)

	provisioner := provisioning.New(registry, devices, tokens, router, broker)
	provisioner.SetLogger(log.Component("provisioning"))
	log.Info("provisioning ready", "broker_address", broker.Address, "broker_port", broker.Port)

	ids, err := registry.CubeIDs(ctx)
	if err != nil {
		return fmt.Errorf("loading cubes: %w", err)
	}
	if startErr := router.Start(ids); startErr != nil {
		return fmt.Errorf("subscribing to cube telemetry: %w", startErr)
	}
	log.Info("telemetry router subscribed", "cubes", len(ids))

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.Component("api"),
		Registry:    registry,
		Catalog:     types,
		Telemetry:   store,
		Provisioner: provisioner,
		Tokens:      tokens,
		Audit:       audit.NewSQLiteRepository(db.DB),
		Subs:        router,
		Health:      health,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("serving: %w", err)
	}

	if dropped := router.Dropped(); dropped > 0 {
		log.Warn("telemetry messages dropped while queue was full", "count", dropped)
	}
	log.Info("CovCube server stopped")
	return nil
}
