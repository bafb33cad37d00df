package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tenantcore/internal/config"
	"github.com/roach88/tenantcore/internal/store"
	"github.com/roach88/tenantcore/internal/telemetry"
)

// runtime is what commands that touch the database share: configuration,
// logger, tracing and the pool.
type runtime struct {
	cfg      config.Config
	path     string
	logger   *slog.Logger
	db       *store.DB
	shutdown telemetry.Shutdown
}

// loadConfig loads configuration and builds the logger. Logs go to stderr.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (config.Config, string, *slog.Logger, error) {
	cfg, path, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, path, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	logger, err := newLogger(cfg.Log, o.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, path, nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	return cfg, path, logger, nil
}

// open loads configuration, installs tracing and opens the database.
// Migrations are applied unless skipMigrations is set.
func (o *RootOptions) open(cmd *cobra.Command, skipMigrations bool) (*runtime, error) {
	ctx := cmd.Context()
	cfg, path, logger, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}

	storeCfg := cfg.StoreConfig(logger)
	storeCfg.SkipMigrations = skipMigrations
	logger.Debug("opening database", "driver", storeCfg.Driver, "config", path)
	db, err := store.Open(ctx, storeCfg)
	if err != nil {
		_ = shutdown(context.WithoutCancel(ctx))
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	return &runtime{cfg: cfg, path: path, logger: logger, db: db, shutdown: shutdown}, nil
}

// Close closes the pool and flushes spans.
func (r *runtime) Close(ctx context.Context) {
	if err := r.db.Close(); err != nil {
		r.logger.Error("error closing database", "error", err)
	}
	if err := r.shutdown(context.WithoutCancel(ctx)); err != nil {
		r.logger.Error("error flushing traces", "error", err)
	}
}

func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", cfg.Format)
}
