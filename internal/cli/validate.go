package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tenantcore/internal/harness"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	ConfigPath string            `json:"config_path,omitempty"`
	Driver     string            `json:"driver,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one problem found by validate.
type ValidationError struct {
	Source  string `json:"source"` // "config" or a scenario file
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [scenario-file-or-dir]...",
		Short: "Validate configuration and scenario files",
		Long: `Load and validate the configuration (file, environment overrides and
defaults) without connecting to the database. Scenario files or
directories given as arguments are parsed and checked too.

Examples:
  tenantcore validate
  tenantcore validate --config ./prod.yaml
  tenantcore validate ./scenarios --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	result := ValidationResult{Valid: true}

	cfg, path, _, err := opts.loadConfig(cmd)
	result.ConfigPath = path
	if err != nil {
		result.Errors = append(result.Errors, ValidationError{Source: "config", Message: err.Error()})
	} else {
		result.Driver = cfg.Database.Driver
		f.VerboseLog("config: %s (driver %s)", displayPath(path), cfg.Database.Driver)
	}

	for _, p := range paths {
		files, err := findScenarioFiles(p, "")
		if err != nil {
			return err
		}
		for _, file := range files {
			if _, err := harness.LoadScenario(file); err != nil {
				result.Errors = append(result.Errors, ValidationError{Source: file, Message: err.Error()})
				continue
			}
			f.VerboseLog("scenario: %s ok", file)
		}
	}
	result.Valid = len(result.Errors) == 0

	if opts.Format == "json" {
		if result.Valid {
			if err := f.Success(result); err != nil {
				return err
			}
		} else if err := f.Error("E_INVALID", fmt.Sprintf("%d problem(s) found", len(result.Errors)), result); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, e := range result.Errors {
			fmt.Fprintf(w, "✗ %s: %s\n", e.Source, e.Message)
		}
		if result.Valid {
			fmt.Fprintf(w, "✓ Configuration valid (%s)\n", displayPath(path))
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed: %d problem(s)", len(result.Errors)))
	}
	return nil
}

func displayPath(path string) string {
	if path == "" {
		return "defaults"
	}
	return path
}
