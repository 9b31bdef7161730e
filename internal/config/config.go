package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/index-queue/internal/queue"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Index    IndexConfig    `yaml:"index"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds queue store configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres or memory
	AutoMigrate     bool          `yaml:"auto_migrate"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RabbitMQConfig holds the wakeup exchange configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MinInterval       time.Duration `yaml:"min_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	BatchSize       int           `yaml:"batch_size"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	StaleThreshold  time.Duration `yaml:"stale_threshold"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IndexConfig holds the search backend location
type IndexConfig struct {
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig holds the worker's Prometheus listener
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 100
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 5 * time.Second
	}
	if c.Worker.StaleThreshold == 0 {
		c.Worker.StaleThreshold = 10 * time.Minute
	}
	if c.Worker.DeliveryTimeout == 0 {
		c.Worker.DeliveryTimeout = 30 * time.Second
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Index.Timeout == 0 {
		c.Index.Timeout = 10 * time.Second
	}
	if c.RabbitMQ.Publish.MinInterval == 0 {
		c.RabbitMQ.Publish.MinInterval = time.Second
	}
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return invalid("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateRabbitMQ()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Index.URL == "" {
		return invalid("index url is required")
	}

	if c.Index.Name == "" {
		return invalid("index name is required")
	}

	if c.Worker.ID == "" {
		return invalid("worker id is required")
	}

	if c.Worker.Concurrency <= 0 {
		return invalid("worker concurrency must be greater than 0")
	}

	if c.Worker.BatchSize <= 0 {
		return invalid("worker batch_size must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return invalid("worker poll_interval must be greater than 0")
	}

	if c.Worker.StaleThreshold <= 0 {
		return invalid("worker stale_threshold must be greater than 0")
	}

	if c.Worker.DeliveryTimeout >= c.Worker.StaleThreshold {
		return invalid("worker delivery_timeout must be shorter than stale_threshold")
	}

	if c.Metrics.Port != 0 && (c.Metrics.Port < MinPort || c.Metrics.Port > MaxPort) {
		return invalid("invalid metrics port: %d (must be between %d and %d)", c.Metrics.Port, MinPort, MaxPort)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
	default:
		return invalid("unknown database driver: %q", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return invalid("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return invalid("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return invalid("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return invalid("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return invalid("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return invalid("rabbitmq exchange name is required")
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{queue.ErrConfiguration}, args...)...)
}
