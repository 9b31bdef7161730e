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
	"time"

	"github.com/cuongbtq/index-queue/internal/bootstrap"
	"github.com/cuongbtq/index-queue/internal/config"
	"github.com/cuongbtq/index-queue/internal/index"
	"github.com/cuongbtq/index-queue/internal/metrics"
	"github.com/cuongbtq/index-queue/internal/queue"
	"github.com/cuongbtq/index-queue/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	// Distinguishes restarts of the same worker id in the logs
	instanceID := uuid.NewString()
	logger := appLogger.With(
		slog.String("worker_id", cfg.Worker.ID),
		slog.String("instance_id", instanceID),
	).Logger

	logger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	store, err := bootstrap.OpenStore(context.Background(), &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue store: %w", err)
	}
	defer store.Close()

	logger.Info("Queue store ready", store.PoolAttrs()...)

	rabbitClient, err := bootstrap.NewRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	indexClient, err := index.NewClient(&index.Config{
		URL:     cfg.Index.URL,
		Name:    cfg.Index.Name,
		Timeout: cfg.Index.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("%w: %w", queue.ErrConfiguration, err)
	}

	queueService, err := queue.NewService(&queue.Config{
		Store:   store,
		Index:   indexClient,
		Logger:  logger,
		Metrics: metrics.New(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize queue service: %w", err)
	}

	workerCfg := &worker.Config{
		Logger:          logger,
		Queue:           queueService,
		WorkerID:        cfg.Worker.ID,
		Concurrency:     cfg.Worker.Concurrency,
		BatchSize:       cfg.Worker.BatchSize,
		PollInterval:    cfg.Worker.PollInterval,
		StaleThreshold:  cfg.Worker.StaleThreshold,
		DeliveryTimeout: cfg.Worker.DeliveryTimeout,
	}
	if rabbitClient != nil {
		workerCfg.Subscriber = rabbitClient
	}
	w := worker.NewWorker(workerCfg)

	var metricsSrv *http.Server
	if cfg.Metrics.Port != 0 {
		metricsSrv = newMetricsServer(cfg.Metrics.Port, store.HealthCheck)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The pool runs on its own context so a signal lets in-flight batches
	// finish; it is canceled only when the shutdown timeout expires.
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Start(workerCtx)
	})

	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("Metrics server listening", slog.String("address", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down worker service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			w.Stop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout exceeded, abandoning in-flight batches",
				slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
			)
			cancelWorker()
			<-stopped
		}

		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Metrics server forced to shutdown", slog.Any("error", err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Worker service shutdown complete")
	return nil
}

// newMetricsServer exposes Prometheus metrics and a health probe
func newMetricsServer(port int, health func(ctx context.Context) error) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		if err := health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "index-queue-worker"})
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
