package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	httpapi "github.com/urbanflux/netatmo-ingest/internal/api/http"
	"github.com/urbanflux/netatmo-ingest/internal/config"
	"github.com/urbanflux/netatmo-ingest/internal/netatmo"
	"github.com/urbanflux/netatmo-ingest/internal/poller"
	"github.com/urbanflux/netatmo-ingest/internal/publish"
	"github.com/urbanflux/netatmo-ingest/internal/report"
	"github.com/urbanflux/netatmo-ingest/internal/store"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)
	logrus.Warn("netatmo-ingest restarted")

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to the database")
	}
	defer pool.Close()

	deviceStore := store.NewPostgresStore(pool)
	if err := deviceStore.Migrate(ctx); err != nil {
		logrus.WithError(err).Fatal("failed to migrate the devices table")
	}

	// Event sink.
	sink, err := publish.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTUsername, cfg.MQTTPassword)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to the MQTT broker")
	}
	defer sink.Close()

	// Shared HTTP client for outbound vendor calls.
	client := netatmo.NewClient(netatmo.ClientConfig{
		HTTPClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		Credentials: cfg.Credentials,
		ListRetries: cfg.ListRetries,
	})

	reporter := report.NewReporter(deviceStore, cfg.AnnounceEvery)

	stats := report.NewFleetStats(deviceStore, cfg.StatsInterval)
	if err := stats.Start(); err != nil {
		logrus.WithError(err).Fatal("failed to start the fleet stats job")
	}
	defer stats.Stop()

	// Observability endpoints beside the poller.
	app := fiber.New(fiber.Config{
		AppName:               "netatmo-ingest",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
	app.Use(recover.New())
	httpapi.RegisterRoutes(app, deviceStore)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logrus.WithError(err).Error("fiber server stopped")
		}
	}()

	// The poller is the program's main control flow; it only returns on
	// cancellation or a fatal, unrecoverable error.
	p := poller.New(poller.Config{
		Region:                   cfg.Region,
		RequestInterval:          cfg.SecondsBetweenRequests,
		DeviceListUpdateInterval: cfg.DeviceListUpdateInterval,
		MaxConsecutiveFails:      cfg.MaxConsecutiveFails,
	}, client, deviceStore, sink, reporter)

	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("poller stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logrus.WithError(err).Error("error during shutdown")
	}
}
