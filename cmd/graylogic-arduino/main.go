// Gray Logic Arduino bridge.
//
// This is the main entry point for the Arduino bridge. It supervises the
// link to the microcontroller (serial or TCP), routes line-JSON frames to
// the device registry, drives firmware updates and exposes everything over
// MQTT and a local HTTP API.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-arduino/migrations"

	"github.com/nerrad567/gray-logic-arduino/internal/api"
	"github.com/nerrad567/gray-logic-arduino/internal/audit"
	"github.com/nerrad567/gray-logic-arduino/internal/auth"
	"github.com/nerrad567/gray-logic-arduino/internal/bridges/arduino"
	"github.com/nerrad567/gray-logic-arduino/internal/device"
	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-arduino/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "GRAYLOGIC_ARDUINO_CONFIG"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := migrate(ctx, os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// Shutdown happens through the deferred closes in reverse start order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Arduino bridge",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
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

	registry := device.NewRegistry(
		device.NewSQLiteRepository(db.DB),
		device.NewSQLiteFlashHistoryRepository(db.DB),
	)
	registry.SetLogger(log.With("component", "device_registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	registry.Start()
	defer registry.Stop()
	log.Info("device registry initialised", "known_devices", len(registry.ListDevices()))

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

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	sinks := arduino.Sinks{registry, hub}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
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
		sinks = append(sinks, arduino.NewTelemetrySink(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	driver := newDriver(cfg, sinks, registry, log)

	menu := arduino.NewConfigMenu(driver, arduino.MenuOptions{
		BoardVersions:   cfg.Arduino.Flash.BoardVersions,
		DefaultHexURL:   cfg.Arduino.Flash.DefaultHexURL,
		URLCheckTimeout: cfg.Arduino.Flash.URLCheckTimeout,
		Logger:          log,
	})

	bridge, err := arduino.NewBridge(arduino.BridgeOptions{
		MQTTClient: mqttClient,
		Controller: driver,
		Menu:       menu,
		Logger:     log.With("component", "arduino_bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating Arduino bridge: %w", err)
	}
	driver.AddSink(bridge)
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting Arduino bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping Arduino bridge")
		bridge.Stop()
	}()

	health := arduino.NewHealthReporter(arduino.HealthReporterConfig{
		Version:   version,
		Interval:  cfg.Arduino.HealthCheckInterval,
		Publisher: mqttClient,
		Source:    driver,
	})
	health.SetLogger(log)
	if pubErr := health.PublishStarting(); pubErr != nil {
		log.Warn("failed to publish starting health", "error", pubErr)
	}
	health.Start(ctx)
	defer health.Stop()

	if cfg.API.Enabled {
		authenticator, authErr := auth.NewAuthenticator(cfg.API.Auth)
		if authErr != nil {
			return fmt.Errorf("configuring API auth: %w", authErr)
		}
		if authenticator == nil {
			log.Warn("API auth disabled", "host", cfg.API.Host)
		}

		srv, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Driver:  driver,
			Menu:    menu,
			Devices: registry,
			MQTT:    mqttClient,
			DB:      db.DB,
			Hub:     hub,
			Auth:    authenticator,
			Audit:   audit.NewSQLiteRepository(db.DB),
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	driverDone := make(chan error, 1)
	go func() {
		driverDone <- driver.Run(ctx)
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
		<-driverDone
	case runErr := <-driverDone:
		if runErr != nil && ctx.Err() == nil {
			return fmt.Errorf("arduino driver: %w", runErr)
		}
	}

	log.Info("Gray Logic Arduino bridge stopped")
	return nil
}

// newDriver maps the arduino config section onto driver options.
func newDriver(cfg *config.Config, sink arduino.EventSink, persisted arduino.PersistedSource, log *logging.Logger) *arduino.Driver {
	a := cfg.Arduino
	return arduino.New(arduino.Options{
		Settings: transport.Settings{
			Path: a.DevicePath,
			Host: a.DeviceHost,
			Port: a.DevicePort,
		},
		Opener: transport.System{BaudRate: a.BaudRate},
		Spawner: arduino.ProcessSpawner{
			Binary: a.Flash.Binary,
			Logger: log.With("component", "arduino_flash"),
		},
		Sink:              sink,
		Logger:            log.With("component", "arduino_driver"),
		RetryDelay:        a.Retry.Delay,
		MaxAttempts:       a.Retry.MaxAttempts,
		ProbeInterval:     a.VersionProbe.Interval,
		ProbeTimeout:      a.VersionProbe.Timeout,
		StatusRefresh:     a.Status.RefreshInterval,
		VersionFlag:       a.Flash.VersionFlag,
		URLFlag:           a.Flash.URLFlag,
		PersistantDevices: a.PersistantDevices,
		Persisted:         persisted,
	})
}

// hashPassword reads one password line from r and writes its Argon2id hash
// for use as api.auth.operators[].password_hash.
func hashPassword(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		return fmt.Errorf("no password on stdin")
	}
	password := sc.Text()
	if password == "" {
		return fmt.Errorf("password is empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

// migrate runs "migrate [up|down|status]" against the configured database
// without starting the bridge. Down rolls back one migration per call.
func migrate(ctx context.Context, args []string, w io.Writer) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	switch action {
	case "up":
		_, pending, err := db.GetMigrationStatus(ctx)
		if err != nil {
			return err
		}
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "applied %d migration(s)\n", len(pending))
		return err
	case "down":
		version, err := db.MigrateDown(ctx)
		if err != nil {
			return err
		}
		if version == "" {
			_, err = fmt.Fprintln(w, "nothing to roll back")
			return err
		}
		_, err = fmt.Fprintf(w, "rolled back %s\n", version)
		return err
	case "status":
		applied, pending, err := db.GetMigrationStatus(ctx)
		if err != nil {
			return err
		}
		for _, r := range applied {
			fmt.Fprintf(w, "applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
		}
		for _, m := range pending {
			fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
		}
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or status)", action)
	}
}

// getConfigPath returns GRAYLOGIC_ARDUINO_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
