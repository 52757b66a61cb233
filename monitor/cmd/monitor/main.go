package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/adcraft-labs/creative-qa/common/logging"
	natsclient "github.com/adcraft-labs/creative-qa/common/messaging/nats"

	"github.com/adcraft-labs/creative-qa/monitor/internal/archive"
	"github.com/adcraft-labs/creative-qa/monitor/internal/config"
	"github.com/adcraft-labs/creative-qa/monitor/internal/deliverylog"
	"github.com/adcraft-labs/creative-qa/monitor/internal/detector"
	"github.com/adcraft-labs/creative-qa/monitor/internal/handlers"
	"github.com/adcraft-labs/creative-qa/monitor/internal/incident"
	"github.com/adcraft-labs/creative-qa/monitor/internal/metricstore"
	natsmonitor "github.com/adcraft-labs/creative-qa/monitor/internal/nats"
	"github.com/adcraft-labs/creative-qa/monitor/internal/notification"
	"github.com/adcraft-labs/creative-qa/monitor/internal/quality"
	"github.com/adcraft-labs/creative-qa/monitor/internal/repository"
	"github.com/adcraft-labs/creative-qa/monitor/internal/router"
	"github.com/adcraft-labs/creative-qa/monitor/internal/server"
	"github.com/adcraft-labs/creative-qa/monitor/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	ephemeral := flag.Bool("ephemeral", false, "keep state in memory instead of PostgreSQL (development only)")
	flag.Parse()

	if *ephemeral {
		// Load reads QAMON_* after the file, so this wins over both.
		os.Setenv("QAMON_DATABASE_ENABLED", "false")
		os.Setenv("QAMON_DATABASE_EPHEMERAL", "true")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("qa-monitor exited with error", logging.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	dlog, err := openDeliveryLog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer dlog.Close()

	evaluator, err := quality.New(qualityConfig(cfg))
	if err != nil {
		return err
	}
	channels, err := notification.NewDirectory(channelSpecs(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to build notification channels: %w", err)
	}

	store := metricstore.New(metricstore.Config{
		Retention:    cfg.MetricStore.Retention,
		MaxPerMetric: cfg.MetricStore.MaxPerMetric,
	})
	tracker := incident.New(incident.Config{
		Cooldown:      cfg.Incidents.Cooldown,
		SweepInterval: cfg.Incidents.SweepInterval,
	}, repo, logger)

	deps := service.Deps{
		Repo:      repo,
		Store:     store,
		Evaluator: evaluator,
		Tracker:   tracker,
		Router:    router.New(routerConfig(cfg), dlog, logger),
		Channels:  channels,
		Logger:    logger,
	}

	if cfg.Storage.Enabled {
		arch, err := archive.NewOpenSearchArchive(archive.Config{
			URL:         cfg.Storage.URL,
			Username:    cfg.Storage.Username,
			Password:    cfg.Storage.Password,
			Insecure:    cfg.Storage.Insecure,
			IndexPrefix: cfg.Storage.IndexPrefix,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to OpenSearch: %w", err)
		}
		if err := arch.EnsureTemplate(ctx); err != nil {
			logger.Warn("Failed to install archive index template", logging.Error(err))
		}
		deps.Archive = arch
		logger.Info("OpenSearch archive enabled", "url", cfg.Storage.URL)
	}

	var (
		natsConn    *natsclient.JetStreamClient
		natsHandler *natsmonitor.Handler
	)
	if cfg.NATS.Enabled {
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Logger = logger.Logger
		natsConn, err = natsclient.NewJetStreamClient(natsCfg)
		if err != nil {
			return err
		}
		defer natsConn.Close()

		dlq, err := natsmonitor.NewDeadLetter(ctx, natsConn, cfg.NATS.DeadLetterQueue, logger)
		if err != nil {
			return err
		}
		deps.DeadLetter = dlq
		deps.Publisher = natsmonitor.NewPublisher(natsConn)
		deps.Broker = natsConn
		logger.Info("NATS messaging enabled", "url", cfg.NATS.URL)
	}

	svc := service.New(serviceConfig(cfg), deps)
	if err := svc.Init(ctx); err != nil {
		return err
	}

	// Background work runs on its own context so it outlives the HTTP
	// server during shutdown.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	svcDone := make(chan struct{})
	go func() {
		svc.Run(runCtx)
		close(svcDone)
	}()

	// The detector stops before the service so anomalies from its last
	// pass are still recorded.
	detCtx, cancelDet := context.WithCancel(runCtx)
	defer cancelDet()
	detDone := make(chan struct{})
	det := detector.New(detectorConfig(cfg), store, svc, logger)
	go func() {
		det.Run(detCtx)
		close(detDone)
	}()

	if natsConn != nil {
		natsHandler = natsmonitor.NewHandler(natsConn, svc, logger)
		if err := natsHandler.Start(runCtx); err != nil {
			return err
		}
	}

	handler := handlers.NewHandler(svc, logger)
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.NewRouter(server.RouterConfig{
			Handler:   handler,
			JWTSecret: cfg.Auth.JWTSecret,
			Logger:    logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("QA monitor listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down QA monitor...")
	case err := <-serverErr:
		logger.Error("HTTP server failed", logging.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logging.Error(err))
	}
	if natsHandler != nil {
		if err := natsHandler.Stop(); err != nil {
			logger.Warn("Failed to stop NATS handler", logging.Error(err))
		}
	}

	cancelDet()
	select {
	case <-detDone:
	case <-shutdownCtx.Done():
		logger.Warn("Anomaly detector did not stop before the shutdown deadline")
	}

	cancelRun()
	select {
	case <-svcDone:
	case <-shutdownCtx.Done():
		logger.Warn("Background workers did not stop before the shutdown deadline")
	}

	if err := svc.Shutdown(shutdownCtx); err != nil {
		return err
	}
	ticks, anomalies := det.Stats()
	logger.Info("QA monitor stopped gracefully",
		"detector_ticks", ticks,
		"anomalies", anomalies,
		"dispatch", svc.Dispatcher().Stats())
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, error) {
	if !cfg.Database.Enabled {
		logger.Warn("Running ephemeral, state will not survive restarts")
		return repository.NewMemoryRepository(), nil
	}

	connString := cfg.Database.Postgres.ConnString()

	logger.Info("Running database migrations...")
	m, err := migrate.New(cfg.Database.MigrationsPath, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil || dbErr != nil {
		logger.Warn("Failed to close migrator", "source_error", srcErr, "database_error", dbErr)
	}
	logger.Info("Database migrations completed")

	repo, err := repository.NewPostgresRepository(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return repo, nil
}

func openDeliveryLog(ctx context.Context, cfg *config.Config, logger *logging.Logger) (deliverylog.Log, error) {
	if !cfg.Redis.Enabled {
		logger.Info("Using in-memory delivery log")
		return deliverylog.NewMemoryLog(), nil
	}
	dlog, err := deliverylog.NewRedisLog(ctx, deliverylog.RedisOptions{
		URL:        cfg.Redis.URL,
		MaxRetries: cfg.Redis.MaxRetries,
		PoolSize:   cfg.Redis.PoolSize,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Using Redis delivery log", "url", cfg.Redis.URL)
	return dlog, nil
}

func serviceConfig(cfg *config.Config) service.Config {
	return service.Config{
		QualityThreshold:  cfg.Incidents.QualityThreshold,
		CriticalComposite: cfg.Incidents.CriticalComposite,
		EventQueueSize:    cfg.Incidents.EventQueueSize,
		SnapshotInterval:  cfg.MetricStore.SnapshotInterval,
		Dispatch: router.DispatchConfig{
			Workers:        cfg.Alerts.Workers,
			QueueSize:      cfg.Alerts.QueueSize,
			MaxAttempts:    cfg.Alerts.MaxAttempts,
			InitialBackoff: cfg.Alerts.InitialBackoff,
			MaxBackoff:     cfg.Alerts.MaxBackoff,
		},
	}
}
