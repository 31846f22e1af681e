package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/bpflow/internal/harness"
	"github.com/roach88/bpflow/internal/store"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Database string
}

// RecordResult describes an archived run.
type RecordResult struct {
	RunID    string   `json:"run_id"`
	Seq      int64    `json:"seq"`
	Name     string   `json:"name"`
	Catalog  string   `json:"catalog"`
	Actions  int      `json:"actions"`
	Digest   string   `json:"digest"`
	Pass     bool     `json:"pass"`
	Errors   []string `json:"errors,omitempty"`
	Failures []string `json:"failures,omitempty"`
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <scenario-file>",
		Short: "Run a scenario and archive its log",
		Long: `Run a scenario file and archive the full execution log, payloads
included, in the SQLite database.

The run is archived even when expectations fail; the exit code reports
them.

Exit codes:
  0 - Run archived and expectations held
  1 - Run archived, expectations failed
  2 - Command error (invalid file, database error, etc.)

Examples:
  bpflow record ./scenarios/tickets_login.yaml
  bpflow record ./scenarios/counter_live.yaml --db ./runs.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default BPFLOW_DB)")

	return cmd
}

func runRecord(opts *RecordOptions, file string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	s, err := harness.LoadScenario(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	result, err := harness.Run(ctx, opts.Catalogs, s, opts.harnessOptions()...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	path := opts.database(opts.Database)
	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	run := &store.Run{
		Name:    s.Name,
		Catalog: s.Catalog,
		Props:   s.Props,
		Entries: result.Log.Entries(),
	}
	if err := st.WriteRun(ctx, run); err != nil {
		return WrapExitError(ExitCommandError, "failed to archive run", err)
	}
	logger.Debug("run archived", "run_id", run.ID, "db", path, "actions", len(run.Entries))

	out := RecordResult{
		RunID:    run.ID,
		Seq:      run.Seq,
		Name:     run.Name,
		Catalog:  run.Catalog,
		Actions:  len(run.Entries),
		Digest:   run.Digest,
		Pass:     result.Pass,
		Errors:   result.Errors,
		Failures: result.Failures,
	}

	if opts.Format == "json" {
		var cliErr *CLIError
		if !out.Pass {
			cliErr = &CLIError{Code: "E_EXPECTATION_FAILED", Message: "scenario expectations failed", Details: out.Errors}
		}
		if err := writeJSON(cmd.OutOrStdout(), out, cliErr); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Recorded run %s (#%d)\n", out.RunID, out.Seq)
		fmt.Fprintf(w, "  scenario: %s\n", out.Name)
		fmt.Fprintf(w, "  catalog:  %s\n", out.Catalog)
		fmt.Fprintf(w, "  actions:  %d\n", out.Actions)
		fmt.Fprintf(w, "  digest:   %s\n", out.Digest)
		for _, e := range out.Errors {
			fmt.Fprintf(w, "  ✗ %s\n", e)
		}
	}

	if !out.Pass {
		return NewExitError(ExitFailure, "scenario expectations failed")
	}
	return nil
}
