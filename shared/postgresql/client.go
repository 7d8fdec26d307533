package postgresql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	defaultConnectTimeout = 5 * time.Second
	healthCheckTimeout    = 2 * time.Second
)

// Config holds PostgreSQL connection configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration // bounds the initial ping, default 5s
}

// Client owns the shared connection pool for the work item and job stores
type Client struct {
	db     *sqlx.DB
	config *Config
	logger *slog.Logger
}

// NewClient opens the pool and verifies it with a ping
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		config: config,
		logger: logger,
	}

	logger.Info("Connecting to PostgreSQL",
		slog.String("host", config.Host),
		slog.Int("port", config.Port),
		slog.String("database", config.Database),
	)

	db, err := sqlx.Open("postgres", c.dataSourceName())
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("Failed to ping PostgreSQL",
			slog.Any("error", err),
		)
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	c.db = db

	logger.Info("Successfully connected to PostgreSQL",
		slog.Int("max_open_conns", config.MaxOpenConns),
		slog.Int("max_idle_conns", config.MaxIdleConns),
		slog.Duration("conn_max_lifetime", config.ConnMaxLifetime),
	)

	return c, nil
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}

	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close PostgreSQL connection",
			slog.Any("error", err),
		)
		return err
	}

	c.logger.Info("PostgreSQL connection closed")
	return nil
}

// RegisterMetrics exposes the pool statistics (open, in use, idle, waits)
// on reg. Registering twice is not an error.
func (c *Client) RegisterMetrics(reg prometheus.Registerer) error {
	err := reg.Register(collectors.NewDBStatsCollector(c.db.DB, c.config.Database))
	var already prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &already) {
		return fmt.Errorf("failed to register database metrics: %w", err)
	}
	return nil
}

// HealthCheck pings the database and runs a trivial query
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := c.db.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("database query health check failed: %w", err)
	}

	return nil
}

// dataSourceName builds a postgres:// URL; the pool and the migrator share it
func (c *Client) dataSourceName() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.config.User, c.config.Password),
		Host:   fmt.Sprintf("%s:%d", c.config.Host, c.config.Port),
		Path:   "/" + c.config.Database,
	}
	if c.config.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.config.SSLMode}}.Encode()
	}
	return u.String()
}
