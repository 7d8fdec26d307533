package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuongbtq/dominion-sim/internal/api/handler"
	"github.com/cuongbtq/dominion-sim/internal/api/router"
	"github.com/cuongbtq/dominion-sim/internal/config"
	"github.com/cuongbtq/dominion-sim/internal/dominion"
	"github.com/cuongbtq/dominion-sim/internal/events"
	"github.com/cuongbtq/dominion-sim/internal/worker"
	"github.com/cuongbtq/dominion-sim/internal/worker/domain"
	"github.com/cuongbtq/dominion-sim/internal/worker/storage"
	"github.com/cuongbtq/dominion-sim/shared/logger"
	"github.com/cuongbtq/dominion-sim/shared/postgresql"
	"github.com/cuongbtq/dominion-sim/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/simulation-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting simulation worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.AutoMigrate {
		if err := dbClient.RunMigrations(storage.Migrations, storage.MigrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	appLogger.Info("Database connection established")

	if cfg.Metrics.Enabled {
		if err := dbClient.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return err
		}
	}

	// Event publisher: RabbitMQ when enabled and reachable, otherwise the log
	publisher, rabbitClient := initPublisher(cfg, appLogger.Logger)
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	workItemStorage := storage.NewWorkItemStorage(dbClient.GetDB(), appLogger.Logger)
	dominionTurnStorage := storage.NewDominionTurnStorage(dbClient.GetDB(), appLogger.Logger)

	processor := dominion.NewProcessor(&dominion.Config{
		Logger:    appLogger.With("component", "dominion").Logger,
		Store:     dominionTurnStorage,
		Publisher: publisher,
		Runner:    dominion.LoggingScenarioRunner(appLogger.Logger),
	})

	// CivicStats, PersonaAction and MarketPricing handlers register here
	// once they exist; until then their items fail as unknown work types.
	registry := worker.NewRegistry()
	registry.Register(domain.WorkTypeDominionTurn, processor.HandleWorkItem)

	breaker := worker.NewCircuitBreaker(worker.BreakerConfig{
		FailureThreshold: cfg.Simulation.CircuitBreaker.FailureThreshold,
		Cooldown:         cfg.Simulation.CircuitBreaker.Cooldown(),
		OnStateChange: func(from, to worker.BreakerState) {
			worker.ObserveBreakerState(from, to)
			appLogger.Warn("Circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:             appLogger.With("component", "worker").Logger,
		Store:              workItemStorage,
		Breaker:            breaker,
		Publisher:          publisher,
		Registry:           registry,
		Environment:        cfg.App.Environment,
		PollInterval:       cfg.Simulation.PollInterval(),
		CircuitBreakerWait: cfg.Simulation.CircuitBreakerWait(),
		HandlerTimeout:     cfg.Simulation.HandlerTimeout,
	})

	// Ops server for /health and /metrics
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      initOpsRouter(cfg, appLogger.Logger, dbClient),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("ops server failed: %w", err)
		}
	}()

	// Start worker in a goroutine
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Simulation worker started successfully",
		slog.String("ops_address", srv.Addr),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", runErr),
		)
	}

	// Cancel context to stop worker
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Simulation.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Ops server forced to shutdown",
			slog.Any("error", err),
		)
	}

	appLogger.Info("Simulation worker shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      cfg.App.Name,
		Environment:  cfg.App.Environment,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initPublisher connects to RabbitMQ when enabled; any failure falls back to
// logging events so the worker keeps processing
func initPublisher(appCfg *config.Config, logger *slog.Logger) (events.Publisher, *rabbitmq.Client) {
	cfg := &appCfg.RabbitMQ
	if !cfg.Enabled {
		logger.Info("RabbitMQ disabled, events will be logged")
		return events.NewLogPublisher(logger), nil
	}

	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		BindingKey:         cfg.BindingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		AppID:              appCfg.App.Name,
	}

	client, err := rabbitmq.NewClient(rabbitConfig, logger)
	if err != nil {
		logger.Warn("RabbitMQ unavailable, events will be logged",
			slog.String("error", err.Error()),
		)
		return events.NewLogPublisher(logger), nil
	}

	logger.Info("RabbitMQ connection established")
	return events.NewRabbitPublisher(client, logger), client
}

// initOpsRouter builds the /health and /metrics router
func initOpsRouter(cfg *config.Config, logger *slog.Logger, dbClient *postgresql.Client) *gin.Engine {
	if strings.EqualFold(cfg.App.Environment, "production") {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupOpsRouter(&handler.Dependencies{
		Logger:      logger,
		ServiceName: cfg.App.Name,
		Health:      dbClient,
	}, router.Options{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	})
}
