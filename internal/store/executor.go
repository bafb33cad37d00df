package store

import (
	"context"
	"database/sql"

	"github.com/roach88/tenantcore/internal/querysql"
)

// Executor runs statements. It is satisfied by the pool (*DB) and by a
// transaction (*Tx), so the same repository code runs in both.
//
// Queries are written with ? placeholders; implementations rebind them for
// their dialect.
type Executor interface {
	Dialect() querysql.Dialect
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Executor = (*DB)(nil)
	_ Executor = (*Tx)(nil)
)

// Tx is a transaction bound to one connection.
type Tx struct {
	tx      *sql.Tx
	dialect querysql.Dialect
}

// NewTx wraps an open transaction.
func NewTx(tx *sql.Tx, dialect querysql.Dialect) *Tx {
	return &Tx{tx: tx, dialect: dialect}
}

// Dialect returns the SQL dialect of the transaction.
func (t *Tx) Dialect() querysql.Dialect {
	return t.dialect
}

// ExecContext runs a statement inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryContext runs a query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryRowContext runs a single-row query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
