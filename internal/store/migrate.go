package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/roach88/tenantcore/internal/querysql"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

const migrationTable = "schema_migrations"

// MigrationsFor returns the embedded migration directory for a dialect.
func MigrationsFor(d querysql.Dialect) (fs.FS, error) {
	return fs.Sub(migrationFS, path.Join("migrations", string(d)))
}

// Migrate applies the embedded migrations for the pool's dialect. Each file
// runs at most once, inside its own transaction, and is recorded in
// schema_migrations.
func (d *DB) Migrate(ctx context.Context) error {
	migrations, err := MigrationsFor(d.dialect)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	applied, err := ApplyMigrations(ctx, d, migrations)
	if err != nil {
		return err
	}
	for _, name := range applied {
		d.logger.Info("migration applied", "name", name, "dialect", string(d.dialect))
	}
	return nil
}

// ApplyMigrations executes *.sql files from migrationFS in name order, at
// most once per file, and returns the names applied by this call.
func ApplyMigrations(ctx context.Context, d *DB, migrationFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`, migrationTable)
	if _, err := d.db.ExecContext(ctx, createSQL); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}

	var applied []string
	for _, file := range sqlFiles {
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}

		done, err := isApplied(ctx, d, file)
		if err != nil {
			return applied, fmt.Errorf("check migration %s: %w", file, err)
		}
		if done {
			continue
		}

		upSQL := ExtractUpMigration(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		if err := applyOne(ctx, d, file, upSQL); err != nil {
			return applied, err
		}
		applied = append(applied, file)
	}

	return applied, nil
}

func applyOne(ctx context.Context, d *DB, file, upSQL string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction %s: %w", file, err)
	}

	if _, err := tx.ExecContext(ctx, upSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", file, err)
	}

	record := d.dialect.Rebind(fmt.Sprintf(
		"INSERT INTO %s (name, applied_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING", migrationTable))
	if _, err := tx.ExecContext(ctx, record, file, time.Now().UTC().UnixMicro()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", file, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

// AppliedMigrations lists recorded migration names in order.
func (d *DB) AppliedMigrations(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT name FROM "+migrationTable+" ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return names, nil
}

// ExtractUpMigration returns the SQL in the -- +migrate Up section.
func ExtractUpMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

func isApplied(ctx context.Context, d *DB, name string) (bool, error) {
	var found int
	row := d.db.QueryRowContext(ctx, d.dialect.Rebind("SELECT 1 FROM "+migrationTable+" WHERE name = ?"), name)
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
