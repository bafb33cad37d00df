package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	LogFormat  string // overrides log.format when set
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tenantcore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tenantcore",
		Short: "Tenant-scoped data access toolkit",
		Long: `Operate the tenantcore data layer: apply schema migrations, prune
expired idempotency keys, inspect pagination cursors and run data-layer
scenarios.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.LogFormat != "" && !isValidFormat(opts.LogFormat) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $TENANTCORE_CONFIG or ./tenantcore.yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (json|text), overrides log.format")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewCursorCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}
