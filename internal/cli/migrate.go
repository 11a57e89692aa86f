package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/database"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Database string
}

// migrationView is the output form of one migration.
type migrationView struct {
	Version   string `json:"version"`
	Name      string `json:"name,omitempty"`
	AppliedAt string `json:"applied_at,omitempty"`
}

// NewMigrateCommand creates the migrate command. PostgreSQL stores create
// their schema on connect, so migrate applies to SQLite only.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides config)")

	cmd.AddCommand(&cobra.Command{
		Use:           "status",
		Short:         "Show applied and pending migrations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQLite(cmd.Context(), opts, func(ctx context.Context, db *database.DB) error {
				return migrationStatus(ctx, cmd.OutOrStdout(), opts, db)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "up",
		Short:         "Apply pending migrations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQLite(cmd.Context(), opts, func(ctx context.Context, db *database.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return WrapExitError(ExitFailure, "applying migrations", err)
				}
				return migrationStatus(ctx, cmd.OutOrStdout(), opts, db)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "down",
		Short:         "Roll back the most recent migration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQLite(cmd.Context(), opts, func(ctx context.Context, db *database.DB) error {
				if err := db.MigrateDown(ctx); err != nil {
					return WrapExitError(ExitFailure, "rolling back migration", err)
				}
				return migrationStatus(ctx, cmd.OutOrStdout(), opts, db)
			})
		},
	})

	return cmd
}

// withSQLite opens the configured SQLite database without migrating it.
func withSQLite(ctx context.Context, opts *MigrateOptions, fn func(context.Context, *database.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}
	if opts.Database != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = opts.Database
	}
	if cfg.Database.Driver != config.DriverSQLite {
		return NewExitError(ExitCommandError, "migrate only applies to the sqlite driver")
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close() //nolint:errcheck // Command-scoped handle

	return fn(ctx, db)
}

func migrationStatus(ctx context.Context, w io.Writer, opts *MigrateOptions, db *database.DB) error {
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "reading migration status", err)
	}

	result := struct {
		Applied []migrationView `json:"applied"`
		Pending []migrationView `json:"pending"`
	}{
		Applied: make([]migrationView, 0, len(applied)),
		Pending: make([]migrationView, 0, len(pending)),
	}
	for _, m := range applied {
		result.Applied = append(result.Applied, migrationView{Version: m.Version, AppliedAt: formatTime(m.AppliedAt)})
	}
	for _, m := range pending {
		result.Pending = append(result.Pending, migrationView{Version: m.Version, Name: m.Name})
	}

	return newFormatter(opts.RootOptions, w).Success(result, func(w io.Writer) error {
		for _, m := range result.Applied {
			fmt.Fprintf(w, "applied  %s  %s\n", m.Version, m.AppliedAt)
		}
		for _, m := range result.Pending {
			fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
		}
		_, err := fmt.Fprintf(w, "%d applied, %d pending\n", len(result.Applied), len(result.Pending))
		return err
	})
}
