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
	"syscall"

	"github.com/cuongbtq/index-queue/internal/api/handler"
	"github.com/cuongbtq/index-queue/internal/api/router"
	"github.com/cuongbtq/index-queue/internal/bootstrap"
	"github.com/cuongbtq/index-queue/internal/config"
	"github.com/cuongbtq/index-queue/internal/metrics"
	"github.com/cuongbtq/index-queue/internal/notify"
	"github.com/cuongbtq/index-queue/internal/queue"
	"github.com/cuongbtq/index-queue/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	store, err := bootstrap.OpenStore(context.Background(), &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue store: %w", err)
	}
	defer store.Close()

	rabbitClient, err := bootstrap.NewRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	queueCfg := &queue.Config{
		Store:   store,
		Logger:  appLogger.Logger,
		Metrics: metrics.New(prometheus.DefaultRegisterer),
	}
	if rabbitClient != nil {
		queueCfg.Notifier = notify.NewNotifier(rabbitClient, cfg.RabbitMQ.Publish.MinInterval)
	}

	queueService, err := queue.NewService(queueCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize queue service: %w", err)
	}

	r := initRouter(cfg.App.Environment, appLogger.Logger, queueService, healthCheck(store, rabbitClient))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.String("store", cfg.Database.Driver),
		slog.Bool("wakeups", rabbitClient != nil),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// healthCheck reports the store and, when enabled, the RabbitMQ connection
func healthCheck(store *bootstrap.Store, rabbitClient *rabbitmq.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := store.HealthCheck(ctx); err != nil {
			return err
		}
		if rabbitClient != nil && !rabbitClient.IsConnected() {
			return rabbitmq.ErrNotConnected
		}
		return nil
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, queueService *queue.Service, health func(ctx context.Context) error) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:      logger,
		Queue:       queueService,
		HealthCheck: health,
	})
}
