// Package config loads tenantcore configuration.
//
// Values come from, in increasing priority: built-in defaults, a YAML file,
// and TENANTCORE_* environment variables. The file is the first of:
//  1. the path passed to Load (the --config flag)
//  2. $TENANTCORE_CONFIG
//  3. ./tenantcore.yaml
//
// An explicit path must exist; the fallbacks are optional.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tenantcore/internal/idempotency"
	"github.com/roach88/tenantcore/internal/querysql"
	"github.com/roach88/tenantcore/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TENANTCORE_"

// DefaultPath is the file tried when no path is given.
const DefaultPath = "tenantcore.yaml"

// Config is the full configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database" envPrefix:"DB_"`
	Idempotency IdempotencyConfig `yaml:"idempotency" envPrefix:"IDEMPOTENCY_"`
	Log         LogConfig         `yaml:"log" envPrefix:"LOG_"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// DatabaseConfig selects and tunes the store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"`
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// IdempotencyConfig tunes the idempotency coordinator.
type IdempotencyConfig struct {
	TTL              time.Duration `yaml:"ttl" env:"TTL"`
	Lease            time.Duration `yaml:"lease" env:"LEASE"`
	MaxResponseBytes int           `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
	RedactHeaders    []string      `yaml:"redact_headers" env:"REDACT_HEADERS" envSeparator:","`
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is text or json.
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the built-in configuration.
func Default() Config {
	idem := idempotency.DefaultConfig()
	return Config{
		Database: DatabaseConfig{
			Driver: string(querysql.SQLite),
			DSN:    "tenantcore.db",
		},
		Idempotency: IdempotencyConfig{
			TTL:              idem.TTL,
			Lease:            idem.Lease,
			MaxResponseBytes: idem.MaxResponseBytes,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "tenantcore",
		},
	}
}

// Load resolves the file, applies it over the defaults, applies environment
// overrides and validates the result. It returns the file path used, or ""
// when no file was read.
func Load(path string) (Config, string, error) {
	cfg := Default()

	path, err := resolvePath(path)
	if err != nil {
		return Config{}, "", err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, path, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, path, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, path, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}

func resolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p, nil
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat config: %w", err)
	}
	return "", nil
}

// decode reads YAML strictly: unknown keys are errors. An empty document
// leaves cfg unchanged.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg with TENANTCORE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := querysql.ParseDialect(c.Database.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database connection limits must not be negative")
	}
	if err := c.IdempotencyConfig().Validate(); err != nil {
		return err
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}

// StoreConfig returns the store settings.
func (c Config) StoreConfig(logger *slog.Logger) store.Config {
	return store.Config{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		Logger:          logger,
	}
}

// IdempotencyConfig returns the coordinator settings.
func (c Config) IdempotencyConfig() idempotency.Config {
	return idempotency.Config{
		TTL:              c.Idempotency.TTL,
		Lease:            c.Idempotency.Lease,
		MaxResponseBytes: c.Idempotency.MaxResponseBytes,
		RedactHeaders:    c.Idempotency.RedactHeaders,
	}
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
