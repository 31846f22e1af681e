package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Name     string
	Event    string // optional - filter to actions on this event name
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID   string         `json:"run_id"`
	Name    string         `json:"name"`
	Catalog string         `json:"catalog"`
	Digest  string         `json:"digest"`
	Entries []engine.Entry `json:"entries"`
	Stats   TraceStats     `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Actions   int            `json:"actions"`
	ByType    map[string]int `json:"by_type"`
	Reactions int            `json:"reactions"`
	Pending   int            `json:"pending"` // events still pending after the last action
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the action log of an archived run",
		Long: `Show the actions of an archived run in id order with the reactions
each one caused: which scenarios progressed, went pending, extended,
were reset or failed.

Examples:
  bpflow trace
  bpflow trace --run 0190a3c4-...
  bpflow trace --name tickets_login --event loginUser
  bpflow trace --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default BPFLOW_DB)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show (default latest)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "show the latest run of this scenario")
	cmd.Flags().StringVar(&opts.Event, "event", "", "filter to actions on this event name")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, err := store.Open(opts.database(opts.Database))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	run, err := loadRun(ctx, st, opts.RunID, opts.Name)
	if err != nil {
		return err
	}

	entries := filterEntries(run.Entries, opts.Event)
	result := TraceResult{
		RunID:   run.ID,
		Name:    run.Name,
		Catalog: run.Catalog,
		Digest:  run.Digest,
		Entries: entries,
		Stats:   traceStats(run.Entries),
	}

	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	return formatter.Success(result, func(w io.Writer) { printTrace(w, result, opts.Verbose) })
}

// filterEntries keeps entries on events named name; all when name is empty.
func filterEntries(entries []engine.Entry, name string) []engine.Entry {
	out := []engine.Entry{}
	for _, e := range entries {
		if name == "" || e.Action.Event.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func traceStats(entries []engine.Entry) TraceStats {
	stats := TraceStats{Actions: len(entries), ByType: map[string]int{}}
	for _, e := range entries {
		stats.ByType[string(e.Action.Type)]++
		stats.Reactions += len(e.Reactions)
	}
	if n := len(entries); n > 0 {
		stats.Pending = len(entries[n-1].Pending)
	}
	return stats
}

func printTrace(w io.Writer, r TraceResult, verbose bool) {
	fmt.Fprintf(w, "Run %s (%s, catalog %s)\n", r.RunID, r.Name, r.Catalog)
	fmt.Fprintf(w, "Digest: %s\n\n", r.Digest)

	if len(r.Entries) == 0 {
		fmt.Fprintln(w, "No actions.")
		return
	}

	for _, e := range r.Entries {
		fmt.Fprintf(w, "#%d %s\n", e.Action.ID, describeAction(e.Action))
		for _, re := range e.Reactions {
			fmt.Fprintf(w, "    %s\n", describeReaction(re))
		}
		if verbose && len(e.Pending) > 0 {
			fmt.Fprintf(w, "    pending: %s\n", joinEvents(e.Pending))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d actions, %d reactions, %d pending at end\n", r.Stats.Actions, r.Stats.Reactions, r.Stats.Pending)
}

func describeAction(a engine.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", a.Type, a.Event)
	if !a.Scenario.IsZero() {
		fmt.Fprintf(&b, " by %s", a.Scenario)
	}
	if a.BidKind != 0 {
		fmt.Fprintf(&b, " (%s)", a.BidKind)
	}
	if a.Pending {
		b.WriteString(" pending")
		if a.ResolveActionID != 0 {
			fmt.Fprintf(&b, " until #%d", a.ResolveActionID)
		}
	}
	if a.RequestActionID != 0 {
		fmt.Fprintf(&b, " settles #%d", a.RequestActionID)
	}
	if a.Payload != nil {
		fmt.Fprintf(&b, " payload=%s", payloadText(a.Payload))
	}
	if a.Error != "" {
		fmt.Fprintf(&b, " error=%q", a.Error)
	}
	return b.String()
}

func describeReaction(r engine.Reaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", r.Scenario, r.Type)
	if r.Section != "" {
		fmt.Fprintf(&b, " [%s]", r.Section)
	}
	if len(r.ChangedProps) > 0 {
		fmt.Fprintf(&b, " props=%s", strings.Join(r.ChangedProps, ","))
	}
	if len(r.Cancelled) > 0 {
		fmt.Fprintf(&b, " cancelled=%s", joinEvents(r.Cancelled))
	}
	if r.Err != "" {
		fmt.Fprintf(&b, " error=%q", r.Err)
	}
	return b.String()
}

func payloadText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func joinEvents[T fmt.Stringer](ids []T) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}
