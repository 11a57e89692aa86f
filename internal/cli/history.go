package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-recorder/internal/history"
	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
)

// HistoryOptions holds flags shared by the history subcommands.
type HistoryOptions struct {
	*RootOptions
	Database string

	// now is the reference for "now" and relative times. Tests pin it.
	now func() time.Time
}

// NewHistoryCommand creates the history command and its subcommands.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts, now: time.Now}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query recorded entity states",
		Long: `Query the recorder's state history.

Times are RFC 3339 (2026-03-01T12:00:00Z), "now", or a negative
duration relative to now (-1h, -30m).

Examples:
  graylogic-recorder history state light.kitchen --at 2026-03-01T12:00:00Z
  graylogic-recorder history last sensor.hall_temperature -n 10
  graylogic-recorder history significant --start -24h --format json`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides config)")

	cmd.AddCommand(newHistoryStateCommand(opts))
	cmd.AddCommand(newHistoryStatesCommand(opts))
	cmd.AddCommand(newHistoryPeriodCommand(opts))
	cmd.AddCommand(newHistoryLastCommand(opts))
	cmd.AddCommand(newHistorySignificantCommand(opts))
	cmd.AddCommand(newHistoryEntitiesCommand(opts))

	return cmd
}

func newHistoryStateCommand(opts *HistoryOptions) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:           "state ENTITY_ID",
		Short:         "Show the state of one entity at a point in time",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			atTime, err := parseTime(at, opts.now())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --at", err)
			}
			return withEngine(cmd.Context(), opts, func(ctx context.Context, engine *history.Engine) error {
				out := newFormatter(opts.RootOptions, cmd.OutOrStdout())
				s, ok := engine.GetState(ctx, atTime, args[0])
				if !ok {
					return out.Success(nil, func(w io.Writer) error {
						_, err := fmt.Fprintf(w, "no state for %s at %s\n", args[0], formatTime(atTime))
						return err
					})
				}
				return out.States([]recorder.State{s})
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "now", "point in time (inclusive)")
	return cmd
}

func newHistoryStatesCommand(opts *HistoryOptions) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:           "states [ENTITY_ID...]",
		Short:         "Show the state of several entities at a point in time",
		Long:          "Show the state of the given entities, or of every recorded entity, at a point in time.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			atTime, err := parseTime(at, opts.now())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --at", err)
			}
			return withEngine(cmd.Context(), opts, func(ctx context.Context, engine *history.Engine) error {
				states := engine.GetStates(ctx, atTime, args...)
				return newFormatter(opts.RootOptions, cmd.OutOrStdout()).States(states)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "now", "point in time (inclusive)")
	return cmd
}

func newHistoryPeriodCommand(opts *HistoryOptions) *cobra.Command {
	var start, end, entityID string

	cmd := &cobra.Command{
		Use:           "period",
		Short:         "Show every state change in a time window",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime, endTime, err := parseWindow(start, end, opts.now())
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), opts, func(ctx context.Context, engine *history.Engine) error {
				grouped := engine.StateChangesDuringPeriod(ctx, startTime, endTime, entityID)
				return writeGrouped(newFormatter(opts.RootOptions, cmd.OutOrStdout()), grouped)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "window start, inclusive (required)")
	_ = cmd.MarkFlagRequired("start")
	cmd.Flags().StringVar(&end, "end", "now", "window end, exclusive")
	cmd.Flags().StringVar(&entityID, "entity", "", "restrict to one entity")
	return cmd
}

func newHistoryLastCommand(opts *HistoryOptions) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:           "last ENTITY_ID",
		Short:         "Show the most recent recorded states of an entity, newest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), opts, func(ctx context.Context, engine *history.Engine) error {
				states := engine.LastNStates(ctx, args[0], n)
				return newFormatter(opts.RootOptions, cmd.OutOrStdout()).States(states)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "number", "n", 0, "number of records (0 uses history.default_last_n)")
	return cmd
}

func newHistorySignificantCommand(opts *HistoryOptions) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:           "significant [ENTITY_ID...]",
		Short:         "Show significant state changes in a time window",
		Long:          "Show state changes in a window with attribute-only updates removed, except for attribute-significant domains.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime, endTime, err := parseWindow(start, end, opts.now())
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), opts, func(ctx context.Context, engine *history.Engine) error {
				grouped := engine.GetSignificantStates(ctx, startTime, endTime, args...)
				return writeGrouped(newFormatter(opts.RootOptions, cmd.OutOrStdout()), grouped)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "window start, inclusive (required)")
	_ = cmd.MarkFlagRequired("start")
	cmd.Flags().StringVar(&end, "end", "now", "window end, exclusive")
	return cmd
}

func newHistoryEntitiesCommand(opts *HistoryOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "entities",
		Short:         "List every entity with recorded history",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), opts, func(ctx context.Context, engine *history.Engine) error {
				ids := engine.Entities(ctx)
				return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Success(ids, func(w io.Writer) error {
					for _, id := range ids {
						if _, err := fmt.Fprintln(w, id); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

// withEngine opens the store read-only, builds a history engine and runs fn.
func withEngine(ctx context.Context, opts *HistoryOptions, fn func(context.Context, *history.Engine) error) error {
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

	st, err := openStore(ctx, cfg.Database, true)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close() //nolint:errcheck // Read-only handle

	engine := history.NewEngine(st.Store, history.Options{
		AttributeSignificantDomains: cfg.History.AttributeSignificantDomains,
		DefaultLastN:                cfg.History.DefaultLastN,
	})
	engine.SetLogger(cliLogger(cfg.Logging, opts.RootOptions))

	return fn(ctx, engine)
}

// cliLogger logs to stderr so query output on stdout stays parseable.
func cliLogger(cfg config.LoggingConfig, opts *RootOptions) *logging.Logger {
	cfg.Output = "stderr"
	cfg.Format = "text"
	if opts.Verbose {
		cfg.Level = "debug"
	}
	return logging.New(cfg, opts.Version).Component("cli")
}

// writeGrouped prints per-entity results. Text output lists entities in
// id order.
func writeGrouped(out *OutputFormatter, grouped map[string][]recorder.State) error {
	return out.Success(grouped, func(w io.Writer) error {
		ids := make([]string, 0, len(grouped))
		for id := range grouped {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		var flat []recorder.State
		for _, id := range ids {
			flat = append(flat, grouped[id]...)
		}
		return writeStateTable(w, flat)
	})
}

// parseWindow parses --start and --end and checks start < end.
func parseWindow(start, end string, now time.Time) (time.Time, time.Time, error) {
	startTime, err := parseTime(start, now)
	if err != nil {
		return time.Time{}, time.Time{}, WrapExitError(ExitCommandError, "invalid --start", err)
	}
	endTime, err := parseTime(end, now)
	if err != nil {
		return time.Time{}, time.Time{}, WrapExitError(ExitCommandError, "invalid --end", err)
	}
	if !startTime.Before(endTime) {
		return time.Time{}, time.Time{}, NewExitError(ExitCommandError, "--start must be before --end")
	}
	return startTime, endTime, nil
}

// parseTime accepts RFC 3339, "now", or a negative duration relative to now.
func parseTime(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "" || value == "now":
		return now, nil
	case strings.HasPrefix(value, "-"):
		d, err := time.ParseDuration(value)
		if err != nil {
			return time.Time{}, fmt.Errorf("relative time %q: %w", value, err)
		}
		return now.Add(d), nil
	default:
		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("time %q: %w", value, err)
		}
		return t, nil
	}
}
