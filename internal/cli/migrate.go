package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tenantcore/internal/store"
)

// MigrateResult is the outcome of the migrate command.
type MigrateResult struct {
	Dialect string   `json:"dialect"`
	Applied []string `json:"applied"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply the embedded schema migrations for the configured database.

Each migration runs once, inside its own transaction, and is recorded in
schema_migrations. Running migrate on an up-to-date database is a no-op.

Examples:
  tenantcore migrate
  TENANTCORE_DB_DRIVER=pgx TENANTCORE_DB_DSN=postgres://localhost/app tenantcore migrate
  tenantcore migrate --config ./tenantcore.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	rt, err := opts.open(cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	migrations, err := store.MigrationsFor(rt.db.Dialect())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load migrations", err)
	}
	applied, err := store.ApplyMigrations(ctx, rt.db, migrations)
	if err != nil {
		return WrapExitError(ExitFailure, "migration failed", err)
	}
	for _, name := range applied {
		rt.logger.Info("migration applied", "name", name)
	}

	result := MigrateResult{Dialect: string(rt.db.Dialect()), Applied: applied}
	if result.Applied == nil {
		result.Applied = []string{}
	}

	f := opts.formatter(cmd)
	if opts.Format == "json" {
		return f.Success(result)
	}
	w := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintf(w, "Schema is up to date (%s)\n", result.Dialect)
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(w, "✓ %s\n", name)
	}
	fmt.Fprintf(w, "Applied %d migration(s) (%s)\n", len(applied), result.Dialect)
	return nil
}
