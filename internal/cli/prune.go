package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tenantcore/internal/clock"
	"github.com/roach88/tenantcore/internal/idempotency"
)

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
	Before    string
	OlderThan time.Duration

	// Clock supplies "now" (for testing). Defaults to the system clock.
	Clock clock.Clock
}

// PruneResult is the outcome of the prune command.
type PruneResult struct {
	Before time.Time `json:"before"`
	Purged int64     `json:"purged"`
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired idempotency keys",
		Long: `Delete idempotency records whose expiry is at or before a cutoff.

The cutoff defaults to now. --before takes an RFC 3339 timestamp;
--older-than moves the cutoff back from now, keeping recently expired keys.

Examples:
  tenantcore prune
  tenantcore prune --older-than 72h
  tenantcore prune --before 2024-06-01T00:00:00Z --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Before, "before", "", "delete keys that expired at or before this RFC 3339 time")
	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "delete keys that expired at least this long ago")
	cmd.MarkFlagsMutuallyExclusive("before", "older-than")

	return cmd
}

func (o *PruneOptions) cutoff() (time.Time, error) {
	if o.Before != "" {
		t, err := time.Parse(time.RFC3339Nano, o.Before)
		if err != nil {
			return time.Time{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid --before %q: expected RFC 3339", o.Before))
		}
		return clock.Normalize(t), nil
	}
	if o.OlderThan < 0 {
		return time.Time{}, NewExitError(ExitCommandError, "--older-than must not be negative")
	}
	c := o.Clock
	if c == nil {
		c = clock.System{}
	}
	return c.Now().Add(-o.OlderThan), nil
}

func runPrune(opts *PruneOptions, cmd *cobra.Command) error {
	before, err := opts.cutoff()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := opts.open(cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	coord, err := idempotency.New(rt.db, rt.cfg.IdempotencyConfig(), idempotency.WithLogger(rt.logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid idempotency config", err)
	}
	n, err := coord.Purge(ctx, before)
	if err != nil {
		return WrapExitError(ExitFailure, "prune failed", err)
	}

	result := PruneResult{Before: before, Purged: n}
	if opts.Format == "json" {
		return opts.formatter(cmd).Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d idempotency key(s) expired at or before %s\n",
		n, before.Format(time.RFC3339))
	return nil
}
