package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Simulation defaults
const (
	DefaultPollIntervalSeconds       = 5
	DefaultCircuitBreakerWaitSeconds = 30
	DefaultFailureThreshold          = 5
	DefaultCooldownSeconds           = 60
	DefaultShutdownTimeout           = 30 * time.Second
	DefaultEnvironment               = "Production"
	DefaultMetricsPath               = "/metrics"
)

// Environment variables that override file values. The double-underscore
// forms mirror the Section__Key convention used by existing deployments.
const (
	EnvEnvironmentName           = "ENVIRONMENT_NAME"
	EnvPollIntervalSeconds       = "SIMULATION_POLL_INTERVAL_SECONDS"
	EnvPollIntervalSecondsAlt    = "Simulation__PollIntervalSeconds"
	EnvCircuitBreakerWaitSeconds = "SIMULATION_CIRCUIT_BREAKER_WAIT_SECONDS"
	EnvCircuitBreakerWaitAlt     = "Simulation__CircuitBreakerWaitSeconds"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Simulation SimulationConfig `yaml:"simulation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
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
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// When disabled, events are written to the log instead.
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	BindingKey string           `yaml:"binding_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
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

// SimulationConfig holds simulation worker configuration
type SimulationConfig struct {
	PollIntervalSeconds       int                  `yaml:"poll_interval_seconds"`
	CircuitBreakerWaitSeconds int                  `yaml:"circuit_breaker_wait_seconds"`
	CircuitBreaker            CircuitBreakerConfig `yaml:"circuit_breaker"`
	HandlerTimeout            time.Duration        `yaml:"handler_timeout"`
	ShutdownTimeout           time.Duration        `yaml:"shutdown_timeout"`
}

// CircuitBreakerConfig holds circuit breaker tuning
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PollInterval returns the sleep between ticks
func (s SimulationConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// CircuitBreakerWait returns the sleep while the breaker is unavailable
func (s SimulationConfig) CircuitBreakerWait() time.Duration {
	return time.Duration(s.CircuitBreakerWaitSeconds) * time.Second
}

// Cooldown returns how long the breaker stays open
func (c CircuitBreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// Load reads and parses the configuration file, fills defaults and applies
// environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	if err := config.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}

	return &config, nil
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.App.Environment == "" {
		c.App.Environment = DefaultEnvironment
	}
	if c.Simulation.PollIntervalSeconds == 0 {
		c.Simulation.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if c.Simulation.CircuitBreakerWaitSeconds == 0 {
		c.Simulation.CircuitBreakerWaitSeconds = DefaultCircuitBreakerWaitSeconds
	}
	if c.Simulation.CircuitBreaker.FailureThreshold == 0 {
		c.Simulation.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.Simulation.CircuitBreaker.CooldownSeconds == 0 {
		c.Simulation.CircuitBreaker.CooldownSeconds = DefaultCooldownSeconds
	}
	if c.Simulation.ShutdownTimeout == 0 {
		c.Simulation.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// applyEnvOverrides lets the environment win over the file
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvEnvironmentName); ok && v != "" {
		c.App.Environment = v
	}

	if err := overrideInt(lookup, &c.Simulation.PollIntervalSeconds, EnvPollIntervalSecondsAlt, EnvPollIntervalSeconds); err != nil {
		return err
	}

	return overrideInt(lookup, &c.Simulation.CircuitBreakerWaitSeconds, EnvCircuitBreakerWaitAlt, EnvCircuitBreakerWaitSeconds)
}

// overrideInt sets dst from the first variable present in names
func overrideInt(lookup func(string) (string, bool), dst *int, names ...string) error {
	for _, name := range names {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q is not an integer", name, v)
		}
		*dst = n
		return nil
	}
	return nil
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateDatabase()
}

// ValidateWorkerConfig checks the settings the simulation worker depends on
func (c *Config) ValidateWorkerConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Simulation.PollIntervalSeconds <= 0 {
		return fmt.Errorf("simulation poll_interval_seconds must be greater than 0")
	}

	if c.Simulation.CircuitBreakerWaitSeconds <= 0 {
		return fmt.Errorf("simulation circuit_breaker_wait_seconds must be greater than 0")
	}

	if c.Simulation.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("simulation circuit_breaker failure_threshold must be greater than 0")
	}

	if c.Simulation.CircuitBreaker.CooldownSeconds <= 0 {
		return fmt.Errorf("simulation circuit_breaker cooldown_seconds must be greater than 0")
	}

	if c.Simulation.HandlerTimeout < 0 {
		return fmt.Errorf("simulation handler_timeout must not be negative")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name != "" && c.RabbitMQ.BindingKey == "" {
		return fmt.Errorf("rabbitmq binding key is required when a queue is configured")
	}

	return nil
}
