// Package bootstrap builds the clients both services share from config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/index-queue/internal/config"
	"github.com/cuongbtq/index-queue/internal/queue"
	"github.com/cuongbtq/index-queue/internal/queue/storage"
	"github.com/cuongbtq/index-queue/shared/logger"
	"github.com/cuongbtq/index-queue/shared/postgresql"
	"github.com/cuongbtq/index-queue/shared/rabbitmq"
)

// Store is an opened queue store with its lifecycle hooks
type Store struct {
	queue.Store

	db *postgresql.Client
}

// HealthCheck verifies the backing database is reachable
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.HealthCheck(ctx)
}

// PoolAttrs reports connection pool usage; empty for the memory driver
func (s *Store) PoolAttrs() []any {
	if s.db == nil {
		return nil
	}
	return s.db.PoolAttrs()
}

// Close releases the database connection
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewLogger initializes and configures the application logger
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// OpenStore opens the queue store selected by cfg.Driver
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory queue store; entries are lost on restart")
		return &Store{Store: storage.NewMemory()}, nil

	case config.DriverPostgres, "":
		dbClient, err := postgresql.NewClient(&postgresql.Config{
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
			ConnectTimeout:  cfg.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", queue.ErrStorage, err)
		}

		pgStore := storage.NewStorage(dbClient.GetDB(), logger)
		if cfg.AutoMigrate {
			if err := pgStore.EnsureSchema(ctx); err != nil {
				return nil, errors.Join(fmt.Errorf("%w: %w", queue.ErrStorage, err), dbClient.Close())
			}
			logger.Info("Queue schema applied")
		}

		return &Store{Store: pgStore, db: dbClient}, nil

	default:
		return nil, fmt.Errorf("%w: unknown database driver: %q", queue.ErrConfiguration, cfg.Driver)
	}
}

// NewRabbitMQ connects to the wakeup exchange. It returns nil when RabbitMQ
// is disabled.
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	if !cfg.Enabled {
		logger.Info("RabbitMQ disabled; workers rely on polling")
		return nil, nil
	}

	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}
