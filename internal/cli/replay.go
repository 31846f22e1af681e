package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/ir"
	"github.com/roach88/bpflow/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - latest run otherwise
	Name     string // optional - latest run with this scenario name
}

// ReplayResult holds the outcome of replaying one archived run.
type ReplayResult struct {
	RunID          string             `json:"run_id"`
	Name           string             `json:"name"`
	Catalog        string             `json:"catalog"`
	State          engine.ReplayState `json:"state"`
	Total          int                `json:"total"`
	Consumed       int                `json:"consumed"`
	Abort          *engine.Divergence `json:"abort,omitempty"`
	RecordedDigest string             `json:"recorded_digest"`
	ReplayedDigest string             `json:"replayed_digest"`
	Deterministic  bool               `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an archived run and verify determinism",
		Long: `Replay an archived run against its catalog and compare the trace
digest of the replay with the recorded one.

Every recorded action is injected at its id; recorded settlements stand
in for asynchronous work. The replay is deterministic when it completes
and both digests match.

Exit codes:
  0 - Replay completed with the recorded digest
  1 - Replay aborted or the digest differs
  2 - Command error (database error, unknown run or catalog, etc.)

Examples:
  bpflow replay
  bpflow replay --db ./runs.db --run 0190a3c4-...
  bpflow replay --name tickets_login --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default BPFLOW_DB)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to replay (default latest)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "replay the latest run of this scenario")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	st, err := store.Open(opts.database(opts.Database))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	run, err := loadRun(ctx, st, opts.RunID, opts.Name)
	if err != nil {
		return err
	}

	build, ok := opts.Catalogs[run.Catalog]
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("run %s: unknown catalog %q", run.ID, run.Catalog))
	}

	e := engine.New(build(engine.Props(run.Props)),
		engine.WithLogger(logger),
		engine.WithMaxActions(opts.Config.MaxActions),
		engine.WithAsyncContext(ctx),
	)
	if _, err := e.StartReplay(run.Replay()); err != nil {
		logger.Debug("replay reported errors", "run_id", run.ID, "error", err)
	}

	settleCtx := ctx
	if opts.Config.Timeout > 0 {
		var cancel context.CancelFunc
		settleCtx, cancel = context.WithTimeout(ctx, opts.Config.Timeout)
		defer cancel()
	}
	c, err := e.Settle(settleCtx)
	if err != nil {
		logger.Debug("settle reported errors", "run_id", run.ID, "error", err)
	}

	digest, err := ir.TraceDigest(e.Log().Trace())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to digest replayed trace", err)
	}

	result := ReplayResult{
		RunID:          run.ID,
		Name:           run.Name,
		Catalog:        run.Catalog,
		State:          c.Replay.State,
		Total:          c.Replay.Total,
		Consumed:       c.Replay.Consumed,
		Abort:          c.Replay.Abort,
		RecordedDigest: run.Digest,
		ReplayedDigest: digest,
	}
	result.Deterministic = result.State == engine.ReplayCompleted && digest == run.Digest

	return outputReplay(cmd, opts.Format, result)
}

// loadRun reads runID, or the latest run (of name, if set).
func loadRun(ctx context.Context, st *store.Store, runID, name string) (store.Run, error) {
	if runID == "" {
		id, err := st.LatestRun(ctx, store.RunFilter{Name: name})
		if err != nil {
			return store.Run{}, WrapExitError(ExitCommandError, "no archived run", err)
		}
		runID = id
	}
	run, err := st.ReadRun(ctx, runID)
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "failed to read run", err)
	}
	return run, nil
}

func outputReplay(cmd *cobra.Command, format string, result ReplayResult) error {
	var cliErr *CLIError
	if !result.Deterministic {
		cliErr = &CLIError{Code: "E_REPLAY_DIVERGED", Message: replayFailure(result)}
	}

	if format == "json" {
		if err := writeJSON(cmd.OutOrStdout(), result, cliErr); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run %s (%s, catalog %s)\n", result.RunID, result.Name, result.Catalog)
		fmt.Fprintf(w, "  replay:   %s, %d/%d actions\n", result.State, result.Consumed, result.Total)
		fmt.Fprintf(w, "  recorded: %s\n", result.RecordedDigest)
		fmt.Fprintf(w, "  replayed: %s\n", result.ReplayedDigest)
		if result.Deterministic {
			fmt.Fprintln(w, "✓ Replay is deterministic")
		} else {
			fmt.Fprintf(w, "✗ %s\n", cliErr.Message)
		}
	}

	if cliErr != nil {
		return NewExitError(ExitFailure, cliErr.Message)
	}
	return nil
}

func replayFailure(r ReplayResult) string {
	if r.Abort != nil {
		return fmt.Sprintf("replay aborted at action %d: %s", r.Abort.ActionID, r.Abort.Reason)
	}
	if r.State != engine.ReplayCompleted {
		return fmt.Sprintf("replay did not complete (%s)", r.State)
	}
	return "replayed trace digest differs from the recorded one"
}
