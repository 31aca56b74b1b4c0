// mqtt2influx - MQTT to InfluxDB bridge
//
// Subscribes to an MQTT broker and writes every numeric reading it receives
// to an InfluxDB v2 bucket, one point per message. The topic
// "<bucket>/<f>/<measurement>.<field>" names the point and the payload
// {"value": <number>} carries the reading.
//
// Configuration is read from configs/config.yaml (MQTT2INFLUX_CONFIG) and
// the InfluxDB credentials from config/server.env (MQTT2INFLUX_ENV_FILE) or
// the process environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aramnhammer/mqtt-to-influxdb/internal/api"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/bridge"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/deadletter"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/config"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/database"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/influxdb"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/logging"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/mqtt"
	"github.com/aramnhammer/mqtt-to-influxdb/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

const (
	// startupProbeTimeout bounds the InfluxDB reachability check at startup.
	startupProbeTimeout = 5 * time.Second

	// pruneInterval is how often old dead letters are removed.
	pruneInterval = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the components together and blocks until ctx is cancelled or
// the bridge loop stops.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting mqtt2influx",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	envPath := config.EnvFilePath()
	envVars, err := config.LoadEnvFile(envPath)
	switch {
	case errors.Is(err, config.ErrEnvFileNotFound):
		log.Info("env file not found, using system environment", "path", envPath)
	case err != nil:
		return fmt.Errorf("loading env file: %w", err)
	default:
		log.Info("env file loaded", "path", envPath, "variables", len(envVars))
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath, envVars)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Best-effort flush on exit
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"workers", cfg.Bridge.Workers,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := bridge.NewMetrics(registry)

	// Dead-letter journal (optional)
	var (
		db          *database.DB
		deadLetters *deadletter.SQLiteRepository
	)
	if cfg.Database.Enabled {
		db, deadLetters, err = openDeadLetters(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		go pruneLoop(ctx, deadLetters, cfg.Database.RetentionDays, log)
	} else {
		log.Info("dead-letter journal disabled")
	}

	// InfluxDB
	session, err := influxdb.SessionFromConfig(cfg.InfluxDB)
	if err != nil {
		return fmt.Errorf("configuring InfluxDB session: %w", err)
	}
	influxClient, err := influxdb.New(session)
	if err != nil {
		return fmt.Errorf("creating InfluxDB client: %w", err)
	}
	defer func() {
		log.Info("closing InfluxDB client")
		if closeErr := influxClient.Close(); closeErr != nil {
			log.Error("error closing InfluxDB client", "error", closeErr)
		}
	}()
	log.Info("InfluxDB session ready",
		"write_url", influxdb.WriteURL(session),
		"transport", session.Transport,
	)

	// Unreachable at startup is not fatal: every delivery is attempted anyway.
	probeCtx, cancelProbe := context.WithTimeout(ctx, startupProbeTimeout)
	if probeErr := influxClient.HealthCheck(probeCtx); probeErr != nil {
		log.Warn("InfluxDB not reachable at startup", "url", session.URL, "error", probeErr)
	}
	cancelProbe()

	// MQTT
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
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	source := mqtt.NewSource(cfg.MQTT)
	if err := source.Start(mqttClient); err != nil {
		return fmt.Errorf("subscribing to %q: %w", cfg.MQTT.SubscribeTopic, err)
	}
	defer source.Close() //nolint:errcheck // Unsubscribe is best-effort on shutdown
	registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "mqtt2influx",
		Name:      "source_dropped_total",
		Help:      "Messages dropped because the receive buffer stayed full past mqtt.enqueue_timeout.",
	}, func() float64 { return float64(source.Dropped()) }))
	log.Info("subscribed", "topic", cfg.MQTT.SubscribeTopic, "qos", cfg.MQTT.QoS)

	// Status server (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			Logger:     log.With("component", "api"),
			MQTT:       mqttClient,
			InfluxDB:   influxClient,
			Gatherer:   registry,
			QueueDepth: source.Pending,
			Version:    version,
		}
		if db != nil {
			deps.Database = db
			deps.DeadLetters = deadLetters
		}

		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	opts := []bridge.Option{
		bridge.WithLogger(log.With("component", "bridge")),
		bridge.WithMetrics(metrics),
	}
	if deadLetters != nil {
		opts = append(opts, bridge.WithDeadLetters(deadLetters))
	}
	loop := bridge.NewLoop(source, influxClient, cfg.Bridge, opts...)

	log.Info("initialisation complete, bridging messages")
	runErr := loop.Run(ctx)

	log.Info("shutting down")
	if runErr != nil {
		return fmt.Errorf("bridge loop: %w", runErr)
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Checks MQTT2INFLUX_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv(config.EnvConfigPath); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDeadLetters opens the SQLite journal, applies migrations and prunes
// entries past the retention window.
func openDeadLetters(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, *deadletter.SQLiteRepository, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("dead-letter journal ready", "path", db.Path())

	repo := deadletter.NewSQLiteRepository(db.DB)
	pruneDeadLetters(ctx, repo, cfg.RetentionDays, log)

	return db, repo, nil
}

// pruneDeadLetters removes entries older than retentionDays.
// A retention of 0 or less keeps everything.
func pruneDeadLetters(ctx context.Context, repo *deadletter.SQLiteRepository, retentionDays int, log *logging.Logger) {
	if retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := repo.Prune(ctx, cutoff)
	if err != nil {
		log.Warn("pruning dead letters failed", "error", err)
		return
	}
	if removed > 0 {
		log.Info("pruned dead letters", "removed", removed, "before", cutoff.UTC().Format(time.RFC3339))
	}
}

// pruneLoop prunes periodically until ctx is cancelled.
func pruneLoop(ctx context.Context, repo *deadletter.SQLiteRepository, retentionDays int, log *logging.Logger) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneDeadLetters(ctx, repo, retentionDays, log)
		}
	}
}
