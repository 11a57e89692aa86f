package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool settings.
const (
	defaultMaxConns   = 5
	minConns          = 1
	maxConnLifetime   = 30 * time.Minute
	maxConnIdleTime   = 5 * time.Minute
	healthCheckPeriod = time.Minute
	pingTimeout       = 5 * time.Second
)

// ErrConnectionFailed is returned when the pool cannot reach the server.
var ErrConnectionFailed = errors.New("postgres: connection failed")

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// DSN returns the keyword/value connection string for cfg.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode,
	)
}

// DB wraps a pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// Connect opens a pool, verifies it with a ping and creates the recorder
// schema if it does not exist.
//
// Parameters:
//   - ctx: Context for the connection check and schema setup
//   - cfg: Connection settings
//
// Returns:
//   - *DB: Connected pool wrapper
//   - error: Wrapping ErrConnectionFailed when the server is unreachable
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	return ConnectDSN(ctx, cfg.DSN(), cfg.MaxConns)
}

// ConnectDSN is Connect with a ready-made connection string (URL or
// keyword/value form).
func ConnectDSN(ctx context.Context, dsn string, maxConns int) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}

	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	poolConfig.MaxConns = int32(maxConns) //nolint:gosec // bounded by config validation
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = maxConnLifetime
	poolConfig.MaxConnIdleTime = maxConnIdleTime
	poolConfig.HealthCheckPeriod = healthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: creating pool: %v", ErrConnectionFailed, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	db := &DB{Pool: pool}
	if err := db.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the states and recorder_runs tables and their
// indexes. It is safe to call repeatedly.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// HealthCheck verifies the pool can reach the server.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// Close closes the pool. Safe to call on a nil DB.
func (db *DB) Close() {
	if db != nil && db.Pool != nil {
		db.Pool.Close()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS states (
		state_id     BIGSERIAL PRIMARY KEY,
		entity_id    TEXT NOT NULL,
		domain       TEXT NOT NULL,
		state        TEXT NOT NULL,
		attributes   JSONB NOT NULL DEFAULT '{}'::jsonb,
		last_changed BIGINT NOT NULL,
		last_updated BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_states_entity_updated ON states (entity_id, last_updated)`,
	`CREATE INDEX IF NOT EXISTS idx_states_updated ON states (last_updated)`,
	`CREATE TABLE IF NOT EXISTS recorder_runs (
		run_id           TEXT PRIMARY KEY,
		started_at       BIGINT NOT NULL,
		ended_at         BIGINT,
		closed_incorrect BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recorder_runs_started ON recorder_runs (started_at)`,
}
