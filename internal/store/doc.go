// Package store owns the database pool: opening it for SQLite or PostgreSQL,
// applying embedded migrations, and translating driver constraint errors into
// typed errors.
//
// # Dialects
//
//   - SQLite via github.com/mattn/go-sqlite3 (driver "sqlite3"): WAL,
//     busy_timeout=5000, foreign keys on, BEGIN IMMEDIATE transactions
//   - PostgreSQL via github.com/jackc/pgx/v5/stdlib (driver "pgx")
//
// Statements are written once with ? placeholders. Executor implementations
// rebind them to $n for PostgreSQL.
//
// # Schema
//
// Every tenant-scoped table has PRIMARY KEY (tenant_id, id), a version column
// starting at 1, and created_at/updated_at stored as integer unix
// microseconds. Cross-table references include tenant_id, so a row can never
// point at another tenant's row.
//
// Migrations live in migrations/<dialect>/NNNN_name.sql and are recorded in
// schema_migrations.
package store
