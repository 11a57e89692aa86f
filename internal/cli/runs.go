package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// runView is the output form of a recorder run.
type runView struct {
	ID              string `json:"id"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at,omitempty"`
	Open            bool   `json:"open"`
	ClosedIncorrect bool   `json:"closed_incorrect"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorder runs, newest first",
		Long: `List recorder runs, newest first.

A run left open by a crash is closed on the next start and marked
closed_incorrect.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs")

	return cmd
}

func runRuns(cmd *cobra.Command, opts *RunsOptions) error {
	ctx := cmd.Context()

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

	runs, err := st.Store.Runs(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "listing runs", err)
	}

	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, newRunView(r))
	}

	return newFormatter(opts.RootOptions, cmd.OutOrStdout()).Success(views, func(w io.Writer) error {
		if len(views) == 0 {
			_, err := fmt.Fprintln(w, "no runs")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN_ID\tSTARTED_AT\tENDED_AT\tSTATUS")
		for _, v := range views {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, v.StartedAt, v.EndedAt, runStatus(v))
		}
		return tw.Flush()
	})
}

func newRunView(r recorder.Run) runView {
	v := runView{
		ID:              r.ID,
		StartedAt:       formatTime(r.StartedAt),
		Open:            r.Open(),
		ClosedIncorrect: r.ClosedIncorrect,
	}
	if !r.Open() {
		v.EndedAt = formatTime(r.EndedAt)
	}
	return v
}

func runStatus(v runView) string {
	switch {
	case v.Open:
		return "running"
	case v.ClosedIncorrect:
		return "closed_incorrect"
	default:
		return "closed"
	}
}
