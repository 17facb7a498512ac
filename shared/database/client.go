package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver names accepted in configuration.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config holds database connection configuration
type Config struct {
	Driver          string        // sqlite3 or postgres
	DSN             string        // file path for sqlite3, conninfo for postgres
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration // sqlite3 only
}

// Client wraps an sqlx.DB for the job store. The same client serves the
// SQLite single-file deployment and the Postgres deployment; callers select
// dialect-specific SQL through Driver().
type Client struct {
	db     *sqlx.DB
	config *Config
	logger *slog.Logger
}

// NewClient opens and verifies a database connection.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	driver := config.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	dsn, err := buildDSN(driver, config)
	if err != nil {
		return nil, err
	}

	logger.Info("connecting to database",
		slog.String("driver", driver),
	)

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite serializes writers; a connection pool only causes
		// SQLITE_BUSY churn under contention.
		db.SetMaxOpenConns(1)
	} else {
		if config.MaxOpenConns > 0 {
			db.SetMaxOpenConns(config.MaxOpenConns)
		}
		if config.MaxIdleConns > 0 {
			db.SetMaxIdleConns(config.MaxIdleConns)
		}
		if config.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(config.ConnMaxLifetime)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db, config: config, logger: logger}, nil
}

func buildDSN(driver string, config *Config) (string, error) {
	switch driver {
	case DriverSQLite:
		path := config.DSN
		if path == "" {
			path = "queuectl.db"
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		busy := config.BusyTimeout
		if busy <= 0 {
			busy = 30 * time.Second
		}
		return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
			path, busy.Milliseconds()), nil
	case DriverPostgres:
		if config.DSN == "" {
			return "", fmt.Errorf("postgres driver requires a DSN")
		}
		return config.DSN, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// DB returns the underlying sqlx.DB instance
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Driver returns the active driver name.
func (c *Client) Driver() string {
	if c.config.Driver == "" {
		return DriverSQLite
	}
	return c.config.Driver
}

// Ping checks the database connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	c.logger.Debug("closing database connection")
	return c.db.Close()
}
