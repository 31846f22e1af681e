package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/bpflow/internal/harness"
)

// FileValidation is the validation outcome of one scenario file.
type FileValidation struct {
	File  string `json:"file"`
	Name  string `json:"name,omitempty"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenarios-dir>",
		Short: "Validate scenario files without running them",
		Long: `Parse every scenario file under a directory and check its fields,
recorded actions, expectations and catalog name. Nothing is run.

Exit codes:
  0 - All files are valid
  1 - One or more files are invalid
  2 - Command error (directory not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		_ = formatter.Error("E_NOT_FOUND", fmt.Sprintf("scenarios directory not found: %s", dir), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := harness.FindScenarios(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	formatter.VerboseLog("Found %d scenario file(s) in %s", len(files), dir)

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, file := range files {
		v := validateFile(opts, file)
		if !v.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, v)
	}

	if !result.Valid {
		if opts.Format == "json" {
			if err := writeJSON(cmd.OutOrStdout(), result, &CLIError{Code: "E_INVALID_SCENARIO", Message: "invalid scenario files"}); err != nil {
				return err
			}
		} else {
			printValidation(cmd.OutOrStdout(), result)
		}
		return NewExitError(ExitFailure, "invalid scenario files")
	}

	return formatter.Success(result, func(w io.Writer) { printValidation(w, result) })
}

func validateFile(opts *RootOptions, file string) FileValidation {
	v := FileValidation{File: file}
	s, err := harness.LoadScenario(file)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	v.Name = s.Name
	if _, ok := opts.Catalogs[s.Catalog]; !ok {
		v.Error = fmt.Sprintf("unknown catalog %q", s.Catalog)
		return v
	}
	v.Valid = true
	return v
}

func printValidation(w io.Writer, result ValidationResult) {
	for _, f := range result.Files {
		if f.Valid {
			fmt.Fprintf(w, "✓ %s\n", f.File)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n  %s\n", f.File, f.Error)
	}
	if result.Valid {
		fmt.Fprintf(w, "✓ %d scenario file(s) valid\n", len(result.Files))
	}
}
