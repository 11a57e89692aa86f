package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/postgres"
	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
	_ "github.com/nerrad567/gray-logic-recorder/migrations" // registers the schema
)

// storeHandle owns the connection behind a recorder.Store.
type storeHandle struct {
	Store recorder.Store

	sqlite *database.DB
	pg     *postgres.DB
}

// Close releases the underlying connection.
func (h *storeHandle) Close() error {
	if h.pg != nil {
		h.pg.Close()
		return nil
	}
	return h.sqlite.Close()
}

// HealthCheck pings the underlying database.
func (h *storeHandle) HealthCheck(ctx context.Context) error {
	if h.pg != nil {
		return h.pg.HealthCheck(ctx)
	}
	return h.sqlite.HealthCheck(ctx)
}

// Describe returns a short human description of the store for logs.
func (h *storeHandle) Describe(cfg config.DatabaseConfig) []any {
	if h.pg != nil {
		return []any{"driver", config.DriverPostgres, "host", cfg.Postgres.Host, "dbname", cfg.Postgres.DBName}
	}
	return []any{"driver", config.DriverSQLite, "path", cfg.Path}
}

// openStore connects to the configured database.
//
// Read-write handles apply SQLite migrations (PostgreSQL bootstraps its
// schema on connect). Read-only handles require an existing SQLite file
// and never write to it.
func openStore(ctx context.Context, cfg config.DatabaseConfig, readOnly bool) (*storeHandle, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := postgres.Connect(ctx, postgres.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		return &storeHandle{Store: recorder.NewPostgresStore(pg.Pool), pg: pg}, nil

	default:
		if readOnly {
			if _, err := os.Stat(cfg.Path); err != nil {
				return nil, fmt.Errorf("database not found: %w", err)
			}
		}

		db, err := database.Open(ctx, database.Config{
			Path:         cfg.Path,
			WALMode:      cfg.WALMode,
			BusyTimeout:  cfg.BusyTimeout,
			MaxOpenConns: cfg.MaxOpenConns,
			ReadOnly:     readOnly,
		})
		if err != nil {
			return nil, err
		}

		if !readOnly {
			if err := db.Migrate(ctx); err != nil {
				db.Close() //nolint:errcheck // Best effort cleanup on error path
				return nil, fmt.Errorf("running migrations: %w", err)
			}
		}
		return &storeHandle{Store: recorder.NewSQLiteStore(db.DB), sqlite: db}, nil
	}
}
