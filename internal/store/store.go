package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/tenantcore/internal/querysql"
)

// sqliteDefaults are appended to SQLite DSNs unless the caller already set
// the parameter:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
//   - BEGIN IMMEDIATE, so a transaction takes the write lock up front instead
//     of failing on lock upgrade
//   - NORMAL synchronous mode (balance durability/performance)
var sqliteDefaults = []struct{ key, aliases, value string }{
	{"_journal_mode", "_journal", "WAL"},
	{"_busy_timeout", "_timeout", "5000"},
	{"_foreign_keys", "_fk", "on"},
	{"_txlock", "", "immediate"},
	{"_synchronous", "_sync", "NORMAL"},
}

// Config describes how to open the database pool.
type Config struct {
	// Driver is "sqlite3" or "pgx" (dialect names are accepted too).
	Driver string
	// DSN is a SQLite path/URI or a PostgreSQL connection string.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// SkipMigrations leaves the schema untouched on Open.
	SkipMigrations bool

	Logger *slog.Logger
}

// DB is the shared connection pool. It is safe for concurrent use and
// implements Executor for statements that run outside a unit of work.
type DB struct {
	db      *sql.DB
	dialect querysql.Dialect
	logger  *slog.Logger
}

// Open opens the pool, verifies connectivity and applies pending migrations.
// This function is idempotent - safe to call multiple times on one database.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dialect, err := querysql.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("open database: dsn is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn := cfg.DSN
	if dialect == querysql.SQLite {
		dsn = SQLiteDSN(dsn)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	configurePool(db, dialect, cfg)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	d := &DB{db: db, dialect: dialect, logger: logger}

	if !cfg.SkipMigrations {
		if err := d.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	return d, nil
}

// OpenSQLite opens a migrated SQLite database at path with default settings.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	return Open(ctx, Config{Driver: "sqlite3", DSN: path})
}

func configurePool(db *sql.DB, dialect querysql.Dialect, cfg Config) {
	maxOpen := cfg.MaxOpenConns
	if dialect == querysql.SQLite && isMemoryDSN(cfg.DSN) {
		// Every connection to :memory: is a separate database.
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// SQLiteDSN adds the required connection parameters to a SQLite DSN,
// keeping any the caller already chose.
func SQLiteDSN(dsn string) string {
	base, rawQuery, _ := strings.Cut(dsn, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		params = url.Values{}
	}

	var add []string
	for _, def := range sqliteDefaults {
		if params.Has(def.key) || (def.aliases != "" && params.Has(def.aliases)) {
			continue
		}
		add = append(add, def.key+"="+def.value)
	}
	if len(add) == 0 {
		return dsn
	}

	extra := strings.Join(add, "&")
	if rawQuery == "" {
		return base + "?" + extra
	}
	return base + "?" + rawQuery + "&" + extra
}

// Close closes the pool.
// Should be called when the store is no longer needed.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// SQL returns the underlying sql.DB.
// Use with caution - prefer repositories and units of work.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Dialect returns the SQL dialect of the pool.
func (d *DB) Dialect() querysql.Dialect {
	return d.dialect
}

// Logger returns the logger the pool was opened with.
func (d *DB) Logger() *slog.Logger {
	return d.logger
}

// Conn checks out a dedicated connection from the pool. The caller must
// Close it to return it.
func (d *DB) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// ExecContext runs a statement on the pool. ? placeholders are rebound for
// the dialect.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

// QueryContext runs a query on the pool. Callers close the returned rows.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
}

// QueryRowContext runs a single-row query on the pool.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (d *DB) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := d.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if !strings.EqualFold(value, expected) {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
