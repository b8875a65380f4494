// brokerpilot - self-adaptive MQTT publisher
//
// brokerpilot fronts a pool of candidate MQTT brokers, continuously probes
// each one's latency, throughput, and load, and keeps the active session
// bound to whichever broker currently scores best for the configured
// device category. Publishes made while no broker is reachable are queued
// and replayed after reconnection.
//
// Usage:
//
//	brokerpilot [category] [broker_uri ...]
//
// With no broker URIs, the local three-broker development pool
// (mqtt://localhost:1883, :1884, :1885) is used. The category selects the
// score weight profile; it defaults to "sensor".
//
// A YAML configuration file (BROKERPILOT_CONFIG, default
// configs/config.yaml) unlocks the full service surface: the admin HTTP
// API, the SQLite audit trail, and the InfluxDB metrics export. Without
// one, brokerpilot runs as a bare adaptive publisher.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brokerpilot/core/internal/api"
	"github.com/brokerpilot/core/internal/audit"
	"github.com/brokerpilot/core/internal/infrastructure/config"
	"github.com/brokerpilot/core/internal/infrastructure/database"
	"github.com/brokerpilot/core/internal/infrastructure/influxdb"
	"github.com/brokerpilot/core/internal/infrastructure/logging"
	"github.com/brokerpilot/core/internal/monitor"
	"github.com/brokerpilot/core/internal/mqttclient"
	"github.com/brokerpilot/core/internal/mqttclient/pahoclient"
	"github.com/brokerpilot/core/internal/session"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
)

// defaultConfigPath is tried when BROKERPILOT_CONFIG is unset.
const defaultConfigPath = "configs/config.yaml"

// defaultBrokerURIs is the development pool used when no URIs are given on
// the command line or in configuration.
var defaultBrokerURIs = []string{
	"mqtt://localhost:1883",
	"mqtt://localhost:1884",
	"mqtt://localhost:1885",
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, args []string) error {
	log := logging.Default()
	log.Info("starting brokerpilot", "version", version, "commit", commit)

	cfg, err := loadOptionalConfig(log)
	if err != nil {
		return err
	}

	category, uris := resolveArgs(args, cfg)

	if cfg != nil {
		log = logging.New(cfg.Logging, version)
	}
	log.Info("broker pool resolved", "category", category, "brokers", uris)

	manager := newManager(category, cfg)
	manager.SetLogger(log.With("component", "session"))
	manager.SetBrokers(uris)

	// Optional sinks: audit trail and metrics export need a config file.
	var auditRepo audit.Repository
	if cfg != nil {
		repo, cleanup, err := wireSinks(ctx, cfg, manager, log)
		if err != nil {
			return err
		}
		defer cleanup()
		auditRepo = repo
	}

	manager.OnConnected(func(uri string) {
		log.Info("broker connected", "uri", uri)
	})
	manager.OnConnectionLost(func(err error) {
		log.Warn("broker connection lost", "error", err)
	})

	manager.StartMonitoring(ctx)
	defer manager.StopMonitoring()

	if ok := manager.Connect(); !ok {
		// Not fatal: keep retrying in the background while the Monitor
		// probes the pool. Connect is idempotent, so overlapping attempts
		// are harmless.
		log.Warn("no broker reachable at startup, retrying in background")
		go retryConnect(ctx, manager)
	}
	defer manager.Disconnect()

	// Admin API (config-gated: it needs the JWT secret).
	if cfg != nil {
		server, err := startAdminAPI(ctx, cfg, manager, auditRepo, log)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("shutting down admin API", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// retryConnect re-runs the fall-through connect every backoff interval
// until one succeeds or ctx is cancelled.
func retryConnect(ctx context.Context, manager *session.Manager) {
	ticker := time.NewTicker(session.DefaultExhaustedBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if manager.IsConnected() || manager.Connect() {
				return
			}
		}
	}
}

// loadOptionalConfig loads the YAML configuration if one is present.
// A missing file is not an error — the CLI runs standalone without one —
// but an unreadable or invalid file is.
func loadOptionalConfig(log *logging.Logger) (*config.Config, error) {
	path := os.Getenv("BROKERPILOT_CONFIG")
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if explicit {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		log.Info("no config file found, running standalone", "path", path)
		return nil, nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)
	return cfg, nil
}

// resolveArgs merges command-line arguments over configuration. The first
// argument is taken as the category when it does not look like a URI;
// everything after it is a broker URI.
func resolveArgs(args []string, cfg *config.Config) (category string, uris []string) {
	category = "sensor"
	if cfg != nil {
		category = cfg.Service.Category
		uris = cfg.Brokers.URIs
	}

	rest := args
	if len(rest) > 0 && !strings.Contains(rest[0], "://") {
		category = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		uris = rest
	}
	if len(uris) == 0 {
		uris = defaultBrokerURIs
	}
	return category, uris
}

// newManager builds the Session Manager over the paho-backed client
// factory, applying the MQTT and Monitor sections when configured.
func newManager(category string, cfg *config.Config) *session.Manager {
	sessCfg := session.Config{}
	if cfg != nil {
		sessCfg = session.Config{
			ConnectTimeout:    cfg.MQTT.ConnectTimeout(),
			DisconnectTimeout: cfg.MQTT.DisconnectTimeout(),
			ExhaustedBackoff:  cfg.MQTT.ExhaustedBackoff(),
			ClientIDPrefix:    cfg.MQTT.ClientIDPrefix,
			PersistenceDir:    cfg.MQTT.PersistenceDir,
			QueueCapacity:     cfg.Queue.Capacity,
			Monitor: monitor.Config{
				Category:            category,
				TickInterval:        cfg.Monitor.TickInterval(),
				LatencyInterval:     cfg.Monitor.LatencyInterval(),
				BandwidthInterval:   cfg.Monitor.BandwidthInterval(),
				ConnectionInterval:  cfg.Monitor.ConnectionInterval(),
				MaxConcurrentProbes: cfg.Monitor.MaxConcurrentProbes,
			},
		}
	} else {
		sessCfg.Monitor = monitor.Config{Category: category}
	}

	manager := session.New(category, pahoclient.Factory, sessCfg)

	if cfg != nil && cfg.MQTT.Auth.Username != "" {
		manager.SetConnectOptions(mqttclient.Options{
			Username:  cfg.MQTT.Auth.Username,
			Password:  cfg.MQTT.Auth.Password,
			KeepAlive: cfg.MQTT.KeepAlive(),
		})
	}

	return manager
}

// wireSinks attaches the audit trail and the InfluxDB metrics export to
// the Manager. It returns the audit repository (nil when the trail is
// disabled) for the admin API's read endpoint, plus a cleanup function
// that closes everything in reverse order.
func wireSinks(ctx context.Context, cfg *config.Config, manager *session.Manager, log *logging.Logger) (audit.Repository, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var repo audit.Repository
	if cfg.Audit.Path != "" {
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.Audit.Path,
			WALMode:     cfg.Audit.WALMode,
			BusyTimeout: cfg.Audit.BusyTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening audit database: %w", err)
		}
		closers = append(closers, func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("closing audit database", "error", closeErr)
			}
		})

		if err := db.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("migrating audit database: %w", err)
		}

		sqlRepo := audit.NewSQLiteRepository(db.DB)
		manager.SetRecorder(audit.NewSQLiteRecorder(sqlRepo))
		repo = sqlRepo
		log.Info("audit trail enabled", "path", cfg.Audit.Path)
	}

	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		closers = append(closers, func() {
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("closing InfluxDB client", "error", closeErr)
			}
		})

		manager.SetMetricsWriter(influx)
		log.Info("InfluxDB metrics export enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB metrics export disabled")
	}

	return repo, cleanup, nil
}

// startAdminAPI brings up the admin HTTP server and its WebSocket event
// feed.
func startAdminAPI(ctx context.Context, cfg *config.Config, manager *session.Manager, repo audit.Repository, log *logging.Logger) (*api.Server, error) {
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.With("component", "api"),
		Manager:  manager,
		Audit:    repo,
		Version:  version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating admin API: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting admin API: %w", err)
	}
	log.Info("admin API listening", "host", cfg.API.Host, "port", cfg.API.Port)

	return server, nil
}
