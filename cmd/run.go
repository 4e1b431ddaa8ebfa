package cmd

import (
	"context"
	"fmt"
	"time"

	"matrixfund/api"
	"matrixfund/application"
	"matrixfund/config"
	"matrixfund/database"
	"matrixfund/domain/interfaces"
	"matrixfund/infrastructure"
	"matrixfund/infrastructure/observability"

	log "github.com/sirupsen/logrus"
)

// Run initializes and starts the application
func Run(ctx context.Context) error {
	// Load configuration
	cfg := config.Get()
	configureLogging(cfg)

	log.Info("Starting matrixfund...")

	// Initialize metrics
	log.Info("Initializing metrics...")
	if err := observability.InitializeGlobalMetrics(ctx, cfg); err != nil {
		log.WithError(err).Warn("Failed to initialize metrics, continuing without them")
	} else {
		log.Info("Metrics initialized successfully")
	}
	metrics := observability.GetMetrics()

	// Initialize database connection
	log.Info("Connecting to database...")
	db, err := database.NewConnection(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("Database connection established successfully")

	// Initialize event publishing
	var eventPublisher interfaces.EventPublisher
	var natsClient *infrastructure.NATSClient
	if cfg.NATSServers != "" {
		log.WithField("servers", cfg.NATSServers).Info("Connecting to NATS...")
		natsClient = infrastructure.NewNATSClient(cfg.NATSServers)
		if err := natsClient.Connect(ctx); err != nil {
			db.Close()
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		natsPublisher := infrastructure.NewNATSEventPublisher(natsClient, infrastructure.NewEventSubjectMapper(), metrics)
		if err := natsPublisher.EnsureLedgerEventStream(natsClient); err != nil {
			log.WithError(err).Warn("Failed to ensure ledger event stream")
		}
		eventPublisher = natsPublisher
		log.Info("NATS event publisher initialized successfully")
	} else {
		log.Info("NATS_SERVERS not set, ledger events will not be published")
		eventPublisher = infrastructure.NewNoopEventPublisher()
	}

	// Initialize unit of work factory
	log.Info("Initializing unit of work factory...")
	uowFactory := infrastructure.NewUnitOfWorkFactory(db, eventPublisher, metrics)
	log.Info("Unit of work factory initialized successfully")

	// Initialize the ledger engine
	log.Info("Initializing ledger engine...")
	engineConfig, err := application.NewEngineConfig(cfg)
	if err != nil {
		closeResources(db, natsClient)
		return fmt.Errorf("invalid engine configuration: %w", err)
	}
	engine := application.NewEngine(uowFactory, nil, engineConfig)
	if err := engine.Bootstrap(ctx); err != nil {
		closeResources(db, natsClient)
		return fmt.Errorf("failed to bootstrap ledger: %w", err)
	}
	log.Info("Ledger engine initialized successfully")

	// Start the distribution worker
	worker := application.NewDistributionWorker(engine, cfg.Automation.PollInterval)
	worker.Start(ctx)

	// Start the HTTP API
	server := api.NewServer(engine, api.ServerConfig{
		Addr:           cfg.APIAddr,
		RateLimit:      cfg.APIRateLimit,
		RateLimitBurst: cfg.APIRateLimitBurst,
	})
	server.Start()

	log.WithField("environment", cfg.Environment).Info("matrixfund is running")
	<-ctx.Done()

	log.Info("Shutting down matrixfund...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Error shutting down HTTP API")
	}
	worker.Stop()

	if err := observability.ShutdownGlobalMetrics(shutdownCtx); err != nil {
		log.WithError(err).Warn("Error shutting down metrics")
	}

	closeResources(db, natsClient)
	log.Info("Shutdown completed")
	return nil
}

func closeResources(db *database.DB, natsClient *infrastructure.NATSClient) {
	if natsClient != nil {
		if err := natsClient.Close(); err != nil {
			log.WithError(err).Warn("Error closing NATS connection")
		}
	}
	log.Info("Closing database connection...")
	db.Close()
}

func configureLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("Unknown LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if cfg.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}
