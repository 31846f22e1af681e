package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/bpflow/internal/config"
	"github.com/roach88/bpflow/internal/demo"
	"github.com/roach88/bpflow/internal/harness"
)

// RootOptions holds global flags and settings for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is loaded from the environment before any command runs.
	Config config.Config

	// Catalogs are the scenario catalogs commands can run.
	Catalogs harness.Catalogs
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the bpflow CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(demo.Registry(nil))
}

func newRootCommand(catalogs harness.Catalogs) *cobra.Command {
	opts := &RootOptions{Catalogs: catalogs}

	cmd := &cobra.Command{
		Use:   "bpflow",
		Short: "bpflow - behavioral scenario scheduler",
		Long: `Run, record and replay behavioral scenarios.

Scenarios bid on events; the scheduler picks one action per cycle,
records it, and can replay a recorded run action by action.

Settings come from BPFLOW_* environment variables; flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.Config = cfg
			if !cmd.Flags().Changed("format") {
				opts.Format = cfg.Format
			}
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// database returns flag if set, the configured database otherwise.
func (o *RootOptions) database(flag string) string {
	if flag != "" {
		return flag
	}
	return o.Config.DB
}

// logger builds the diagnostic logger. --verbose forces debug level.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	cfg := o.Config
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	cfg.Format = o.Format
	return cfg.Logger(w)
}

// commandContext returns the command's context, or Background when the
// command was not started through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
