package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jordanlanch/commissionengine/pkg/logger"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Client holds the database driver
type Client struct {
	Driver  *entsql.Driver
	Dialect string
	db      *sql.DB // Underlying database for pool stats

	replicas *replicaSet
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum amount of time a connection may be reused
	ConnMaxIdleTime time.Duration // Maximum amount of time a connection may be idle
}

// SSLConfig holds SSL/TLS configuration for database connections
type SSLConfig struct {
	Mode         string // disable, require, verify-ca, verify-full
	CertPath     string // Path to client certificate
	KeyPath      string // Path to client key
	RootCertPath string // Path to root CA certificate
}

// Config describes how to reach the primary database and its read replicas
type Config struct {
	Driver      string
	URL         string
	Pool        PoolConfig
	SSL         *SSLConfig
	ReplicaURLs []string
}

// DefaultPoolConfig returns sensible defaults for connection pooling
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// BuildConnectionString builds a PostgreSQL connection string with SSL parameters
func BuildConnectionString(baseURL string, sslCfg *SSLConfig) (string, error) {
	if sslCfg == nil {
		return baseURL, nil
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}

	query := parsedURL.Query()

	// Set SSL mode (overrides any existing sslmode in URL)
	if sslCfg.Mode != "" {
		query.Set("sslmode", sslCfg.Mode)
	}
	if sslCfg.CertPath != "" {
		query.Set("sslcert", sslCfg.CertPath)
	}
	if sslCfg.KeyPath != "" {
		query.Set("sslkey", sslCfg.KeyPath)
	}
	if sslCfg.RootCertPath != "" {
		query.Set("sslrootcert", sslCfg.RootCertPath)
	}

	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

func dialectFor(driver string) (string, error) {
	switch driver {
	case DriverPostgres, "":
		return dialect.Postgres, nil
	case DriverSQLite, "sqlite":
		return dialect.SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// openDB opens and configures one pool. SQLite is limited to a single
// connection so in-memory databases are shared by every query.
func openDB(driver, dsn string, poolCfg PoolConfig, sslCfg *SSLConfig) (*sql.DB, string, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, "", err
	}

	connStr := dsn
	driverName := DriverSQLite
	if d == dialect.Postgres {
		driverName = DriverPostgres
		connStr, err = BuildConnectionString(dsn, sslCfg)
		if err != nil {
			return nil, "", fmt.Errorf("failed building connection string: %w", err)
		}
	}

	db, err := sql.Open(driverName, connStr)
	if err != nil {
		return nil, "", fmt.Errorf("failed opening connection to %s: %w", driverName, err)
	}

	if d == dialect.SQLite {
		poolCfg.MaxOpenConns = 1
		poolCfg.MaxIdleConns = 1
		poolCfg.ConnMaxLifetime = 0
		poolCfg.ConnMaxIdleTime = 0
	}
	db.SetMaxOpenConns(poolCfg.MaxOpenConns)
	db.SetMaxIdleConns(poolCfg.MaxIdleConns)
	db.SetConnMaxLifetime(poolCfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(poolCfg.ConnMaxIdleTime)

	return db, d, nil
}

// Open connects to the primary database and any reachable read replicas.
// Unreachable replicas are logged and skipped.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}

	db, d, err := openDB(cfg.Driver, cfg.URL, cfg.Pool, cfg.SSL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed connecting to database: %w", err)
	}

	if cfg.SSL != nil && cfg.SSL.Mode != "" && cfg.SSL.Mode != "disable" {
		log.Info("database SSL enabled", "mode", cfg.SSL.Mode, "root_cert", cfg.SSL.RootCertPath)
	}
	log.Info("database connection pool configured",
		"dialect", d,
		"max_open", cfg.Pool.MaxOpenConns,
		"max_idle", cfg.Pool.MaxIdleConns,
		"max_lifetime", cfg.Pool.ConnMaxLifetime.String(),
	)

	client := &Client{
		Driver:  entsql.OpenDB(d, db),
		Dialect: d,
		db:      db,
	}
	if d == dialect.Postgres && len(cfg.ReplicaURLs) > 0 {
		client.replicas = connectReplicas(ctx, cfg, log)
	}
	return client, nil
}

// FromDB wraps an already opened database, mainly for tests
func FromDB(driver string, db *sql.DB) (*Client, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Client{Driver: entsql.OpenDB(d, db), Dialect: d, db: db}, nil
}

// Reader returns a driver for read-only queries: a healthy replica when one
// is configured, the primary otherwise.
func (c *Client) Reader() dialect.Driver {
	if r := c.replicas.pick(); r != nil {
		return r
	}
	return c.Driver
}

// Close closes the database connections
func (c *Client) Close() error {
	c.replicas.close()
	return c.Driver.Close()
}

// Ping checks if the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Stats returns database connection pool statistics
func (c *Client) Stats() sql.DBStats {
	return c.db.Stats()
}
