package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/tempsys-core/internal/api"
	"github.com/nerrad567/tempsys-core/internal/audit"
	"github.com/nerrad567/tempsys-core/internal/auth"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tempsys-core/internal/notify"
	"github.com/nerrad567/tempsys-core/internal/telemetry"
)

// run is the serve loop, separated from the command for testability. It
// returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer log.Close() //nolint:errcheck // closing the log file on exit
	log.Info("starting tempsys",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	store, err := openStorage(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := store.close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	health := map[string]api.HealthChecker{"database": store.health}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Metrics: Prometheus always, InfluxDB when enabled.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promRecorder, err := telemetry.NewPrometheusRecorder(registry)
	if err != nil {
		return err
	}
	recorders := telemetry.Multi{promRecorder}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
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
		health["influxdb"] = influxClient
		recorders = append(recorders, telemetry.NewInfluxRecorder(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Background workers stop before the clients they write through close.
	bgCtx, stopBackground := context.WithCancel(ctx)
	var background sync.WaitGroup
	defer func() {
		stopBackground()
		background.Wait()
		log.Info("background workers stopped")
	}()

	auditRecorder := audit.NewRecorder(store.audit, log.Logger)
	background.Go(func() { auditRecorder.Run(bgCtx) })
	recorders = append(recorders, auditRecorder)

	var publisher notify.Publisher
	var outbox string
	if mqttClient != nil {
		publisher = mqttClient
		outbox = mqttClient.Topics().MailOutbox()
	}
	notifier, err := notify.FromConfig(cfg.Email, publisher, outbox, log.Logger)
	if err != nil {
		return fmt.Errorf("configuring email: %w", err)
	}
	log.Info("email transport configured", "transport", cfg.Email.Transport)

	issuer, err := newIssuer(cfg.Security)
	if err != nil {
		return err
	}
	hasher := newHasher(cfg.Security.Password)
	svc := auth.NewService(auth.ServiceDeps{
		Store:           store.store,
		Hasher:          hasher,
		Issuer:          issuer,
		Notifier:        notifier,
		VerificationURL: cfg.Email.VerificationURL,
		Logger:          log.Logger,
		Recorder:        recorders,
	})

	if _, err := auth.SeedAdmin(ctx, store.store, hasher, cfg.Security.Bootstrap.AdminEmail, log.Logger); err != nil {
		return fmt.Errorf("seeding admin account: %w", err)
	}

	if cfg.Reaper.Enabled {
		reaper := auth.NewReaper(store.store, auth.ReaperOptions{
			Interval: cfg.Reaper.Interval,
			Timeout:  cfg.Reaper.Timeout,
			Logger:   log.Logger,
			Recorder: recorders,
		})
		background.Go(func() { reaper.Run(bgCtx) })
		log.Info("token reaper started", "interval", cfg.Reaper.Interval)
	} else {
		log.Info("token reaper disabled")
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Accounts: svc,
		Audit:    store.audit,
		Health:   health,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Version:  version,
	})
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

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, background workers,
	// InfluxDB, MQTT, database.
	return nil
}
