package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/bpflow/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
	Name     string // optional - only runs of this scenario
	Catalog  string // optional - only runs of this catalog
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived runs",
		Long: `List every archived run in the order it was recorded.

Examples:
  bpflow runs
  bpflow runs --catalog tickets
  bpflow runs --db ./runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default BPFLOW_DB)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "only list runs of this scenario")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "only list runs of this catalog")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	st, err := store.Open(opts.database(opts.Database))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(commandContext(cmd), store.RunFilter{Name: opts.Name, Catalog: opts.Catalog})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	return formatter.Success(runs, func(w io.Writer) {
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs archived.")
			return
		}
		for _, r := range runs {
			fmt.Fprintf(w, "#%-4d %s  %-24s %-10s %4d actions  %s\n", r.Seq, r.ID, r.Name, r.Catalog, r.Actions, shortDigest(r.Digest))
		}
	})
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
